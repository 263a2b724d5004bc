package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/datadog"
	"github.com/thatsimonsguy/webtimer/internal/distributor"
	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/program"
	"github.com/thatsimonsguy/webtimer/internal/signing"
)

// Updater fetches signed bundles for this host and stages them for the executor.
type Updater struct {
	dist       *distributor.Distributor
	workDir    string
	inboxDir   string
	attempts   int
	backoff    time.Duration
	statusFile string
	notify     func(title, message string)
}

func New(d *distributor.Distributor, workDir, inboxDir string, attempts int, backoff time.Duration) *Updater {
	return &Updater{
		dist:     d,
		workDir:  workDir,
		inboxDir: inboxDir,
		attempts: attempts,
		backoff:  backoff,
		notify:   func(string, string) {},
	}
}

// WithNotifier sets the alert sink for rejected bundles.
func (u *Updater) WithNotifier(fn func(title, message string)) *Updater {
	u.notify = fn
	return u
}

// WithStatusFile pushes path to the remote store after every poll.
func (u *Updater) WithStatusFile(path string) *Updater {
	u.statusFile = path
	return u
}

// Recover clears locks a previous run of the updater left in the work dir, the inbox
// and the remote namespace. Call it once before Run.
func (u *Updater) Recover(ctx context.Context) error {
	return u.dist.Recover(ctx, u.workDir, u.inboxDir)
}

// RunOnce pulls pending bundles, verifies each into the work dir and stages the
// verified files. It returns the staged names.
func (u *Updater) RunOnce(ctx context.Context) ([]string, error) {
	if program.UpdatePending(u.workDir) {
		log.Debug().Msg("Previous update not applied yet, skipping poll")
		return nil, nil
	}

	if err := os.MkdirAll(u.inboxDir, 0755); err != nil {
		return nil, fmt.Errorf("create inbox: %w: %w", model.ErrIO, err)
	}

	err := distributor.WithRetry(ctx, u.attempts, u.backoff, func() error {
		_, err := u.dist.PullArtifacts(ctx, u.inboxDir)
		return err
	})
	switch {
	case errors.Is(err, model.ErrLockContended):
		log.Info().Msg("Remote store busy, will retry next poll")
		return nil, nil
	case err != nil:
		datadog.Count("distribution.outcome", 1, "operation:pull", "outcome:"+model.Outcome(err))
		return nil, err
	}

	bundles, err := filepath.Glob(filepath.Join(u.inboxDir, distributor.BundlePattern))
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	sort.Strings(bundles)

	var staged []string
	for _, bundle := range bundles {
		names, err := u.install(bundle)
		datadog.Count("distribution.outcome", 1, "operation:extract_bundle", "outcome:"+model.Outcome(err))

		switch {
		case err == nil:
			staged = append(staged, names...)
		case errors.Is(err, model.ErrLockContended):
			// work dir busy; keep this and later bundles for the next poll
			log.Info().Str("bundle", bundle).Msg("Work dir locked, bundle kept for next poll")
			return staged, u.stage(staged)
		case errors.Is(err, model.ErrIO):
			log.Error().Err(err).Str("bundle", bundle).Msg("Failed to install bundle, kept for retry")
			continue
		default:
			log.Error().Err(err).Str("bundle", bundle).Msg("Bundle rejected")
			u.notify("Program bundle rejected", fmt.Sprintf("%s: %v", filepath.Base(bundle), err))
		}

		if err := os.Remove(bundle); err != nil {
			log.Warn().Err(err).Str("bundle", bundle).Msg("Failed to remove processed bundle")
		}
	}

	if err := u.stage(staged); err != nil {
		return staged, err
	}
	u.pushStatus(ctx)
	return staged, nil
}

func (u *Updater) install(bundle string) ([]string, error) {
	entries, err := signing.BundleEntries(bundle)
	if err != nil {
		return nil, err
	}

	var manifest []string
	for _, name := range entries {
		if name == signing.SignatureEntry {
			continue
		}
		if !strings.HasSuffix(name, program.UpdateSuffix) {
			return nil, fmt.Errorf("bundle entry %q is not a staged update: %w", name, model.ErrConfigInvalid)
		}
		manifest = append(manifest, name)
	}
	if len(manifest) == 0 {
		return nil, fmt.Errorf("bundle %s is empty: %w", filepath.Base(bundle), model.ErrConfigInvalid)
	}

	if err := u.dist.ExtractSignedBundle(bundle, manifest, u.workDir); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (u *Updater) stage(names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := program.StageUpdate(u.workDir, names); err != nil {
		return fmt.Errorf("stage update: %w: %w", model.ErrIO, err)
	}
	log.Info().Strs("files", names).Msg("Update staged")
	return nil
}

func (u *Updater) pushStatus(ctx context.Context) {
	if u.statusFile == "" {
		return
	}
	if err := u.dist.PushArtifact(ctx, u.statusFile); err != nil {
		log.Warn().Err(err).Msg("Failed to push status file")
	}
}

// Run polls every interval until ctx is cancelled.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := u.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Update poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
