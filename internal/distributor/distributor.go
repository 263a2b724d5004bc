package distributor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/mutex"
	"github.com/thatsimonsguy/webtimer/internal/signing"
	"github.com/thatsimonsguy/webtimer/internal/transport"
)

// BundlePattern matches the bundle files waiting in a host's remote namespace.
const BundlePattern = "*.tar"

// Recorder receives one event per distribution operation.
type Recorder interface {
	RecordDistribution(ev model.DistributionEvent) error
}

// Distributor moves signed program bundles between this host and the remote store.
type Distributor struct {
	transport transport.Transport
	hostID    string
	signer    *signing.Signer
	recorder  Recorder
}

func New(t transport.Transport, hostID string, signer *signing.Signer) *Distributor {
	return &Distributor{transport: t, hostID: hostID, signer: signer}
}

// WithRecorder attaches a journal for distribution outcomes.
func (d *Distributor) WithRecorder(r Recorder) *Distributor {
	d.recorder = r
	return d
}

func (d *Distributor) HostID() string {
	return d.hostID
}

func (d *Distributor) lockLocation() string {
	return mutex.RemoteLocation(d.hostID)
}

// PushArtifact uploads file into this host's remote namespace and confirms it by
// reading it back.
func (d *Distributor) PushArtifact(ctx context.Context, file string) (err error) {
	defer func() { d.record("push", filepath.Base(file), err) }()

	local, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("push %s: %w: %w", file, model.ErrIO, err)
	}

	held, err := d.lockRemote(ctx)
	if err != nil {
		return err
	}
	defer d.releaseRemote(ctx, held)

	if err := d.transport.Push(ctx, file, d.hostID); err != nil {
		return fmt.Errorf("push %s: %w", file, err)
	}

	feedback, err := d.transport.Get(ctx, path.Join(d.hostID, filepath.Base(file)))
	if err != nil || !bytes.Equal(feedback, local) {
		return fmt.Errorf("push %s: no matching feedback: %w", file, model.ErrTransferFailed)
	}

	log.Info().
		Str("file", file).
		Str("host_id", d.hostID).
		Int("bytes", len(local)).
		Msg("Artifact pushed")
	return nil
}

// PullArtifacts moves every pending bundle from this host's remote namespace into destDir.
func (d *Distributor) PullArtifacts(ctx context.Context, destDir string) (pulled []string, err error) {
	defer func() { d.record("pull", fmt.Sprintf("%d bundles", len(pulled)), err) }()

	remote, err := d.lockRemote(ctx)
	if err != nil {
		return nil, err
	}
	defer d.releaseRemote(ctx, remote)

	local, err := d.lockLocal(destDir)
	if err != nil {
		return nil, err
	}
	defer d.releaseLocal(destDir, local)

	pulled, err = d.transport.Pull(ctx, BundlePattern, d.hostID, destDir)
	if err != nil {
		return pulled, fmt.Errorf("pull bundles: %w", err)
	}

	for _, name := range pulled {
		if err := d.transport.Delete(ctx, name, d.hostID); err != nil {
			return pulled, fmt.Errorf("remove pulled bundle %s: %w", name, err)
		}
	}

	if len(pulled) > 0 {
		log.Info().
			Strs("bundles", pulled).
			Str("dest", destDir).
			Msg("Bundles pulled")
	}
	return pulled, nil
}

// CreateSignedBundle builds a signed archive while holding the local lock of its directory.
func (d *Distributor) CreateSignedBundle(archive string, manifest []string) (err error) {
	defer func() { d.record("create_bundle", filepath.Base(archive), err) }()

	dir := filepath.Dir(archive)
	local, err := d.lockLocal(dir)
	if err != nil {
		return err
	}
	defer d.releaseLocal(dir, local)

	return d.signer.CreateBundle(archive, manifest)
}

// ExtractSignedBundle verifies and unpacks archive into dir while holding dir's local lock.
func (d *Distributor) ExtractSignedBundle(archive string, manifest []string, dir string) (err error) {
	defer func() { d.record("extract_bundle", filepath.Base(archive), err) }()

	local, err := d.lockLocal(dir)
	if err != nil {
		return err
	}
	defer d.releaseLocal(dir, local)

	return d.signer.ExtractBundle(archive, manifest, dir)
}

// Recover removes locks naming this host that a previous run left behind: the remote
// lock and the local locks in dirs. Call it once at startup, before any operation.
func (d *Distributor) Recover(ctx context.Context, dirs ...string) error {
	var errs []error
	if d.transport != nil {
		if _, err := mutex.ClearLeftoverRemote(ctx, d.transport, d.lockLocation(), d.hostID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, dir := range dirs {
		if _, err := mutex.ClearLeftoverLocal(dir, d.hostID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Distributor) lockRemote(ctx context.Context) (mutex.Outcome, error) {
	outcome, err := mutex.TryLockRemote(ctx, d.transport, d.lockLocation(), d.hostID)
	if err != nil {
		return outcome, err
	}
	if !outcome.Held() {
		return outcome, fmt.Errorf("remote lock %s: %w", d.lockLocation(), model.ErrLockContended)
	}
	return outcome, nil
}

func (d *Distributor) lockLocal(dir string) (mutex.Outcome, error) {
	outcome, err := mutex.TryLockLocal(d.hostID, dir)
	if err != nil {
		return outcome, err
	}
	if !outcome.Held() {
		return outcome, fmt.Errorf("local lock %s: %w", dir, model.ErrLockContended)
	}
	return outcome, nil
}

// releaseRemote drops a remote lock this operation acquired. AlreadyOwnedBySelf means
// an enclosing operation holds it; leftovers from a crash are cleared by Recover.
func (d *Distributor) releaseRemote(ctx context.Context, outcome mutex.Outcome) {
	if outcome != mutex.Acquired {
		return
	}
	if err := mutex.ReleaseRemote(ctx, d.transport, d.lockLocation()); err != nil {
		log.Error().Err(err).Msg("Failed to release remote lock")
	}
}

// releaseLocal drops a local lock this operation acquired. AlreadyOwnedBySelf means an
// enclosing operation holds it.
func (d *Distributor) releaseLocal(dir string, outcome mutex.Outcome) {
	if outcome != mutex.Acquired {
		return
	}
	if err := mutex.ReleaseLocal(dir); err != nil {
		log.Error().Err(err).Msg("Failed to release local lock")
	}
}

func (d *Distributor) record(op, detail string, err error) {
	if d.recorder == nil {
		return
	}
	ev := model.DistributionEvent{
		At:        time.Now(),
		Operation: op,
		Outcome:   model.Outcome(err),
		Detail:    detail,
	}
	if rerr := d.recorder.RecordDistribution(ev); rerr != nil {
		log.Warn().Err(rerr).Str("operation", op).Msg("Failed to journal distribution event")
	}
}

// WithRetry runs fn up to attempts times, sleeping backoff between IO failures.
// Lock contention and signature failures are returned immediately.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Int("attempts", attempts).
			Dur("backoff", backoff).
			Msg("Distribution attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, model.ErrLockContended),
		errors.Is(err, model.ErrInvalidSignature),
		errors.Is(err, model.ErrConfigInvalid),
		errors.Is(err, model.ErrUnsupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
