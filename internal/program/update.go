package program

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// UpdatePending reports whether the update marker is present in dir.
func UpdatePending(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, UpdateMarker))
	return err == nil
}

// ApplyUpdate renames every staged <name>_update file listed in the update list to <name>,
// then removes the list and finally the marker. It can be re-run after a crash.
func ApplyUpdate(dir string) ([]string, error) {
	listPath := filepath.Join(dir, UpdateList)

	data, err := os.ReadFile(listPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read update list: %w", err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msg("Update marker present without an update list")
	}

	var applied []string
	for _, staged := range strings.Fields(string(data)) {
		staged = filepath.Base(staged)
		target := strings.TrimSuffix(staged, UpdateSuffix)
		if target == staged {
			log.Warn().Str("file", staged).Msg("Update list entry has no update suffix, skipping")
			continue
		}

		src := filepath.Join(dir, staged)
		dst := filepath.Join(dir, target)
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) && exists(dst) {
				// already renamed before a restart
				continue
			}
			return applied, fmt.Errorf("rename %s: %w", staged, err)
		}
		applied = append(applied, target)
		log.Info().Str("file", target).Msg("Applied staged update")
	}

	if err := os.Remove(listPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return applied, fmt.Errorf("remove update list: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, UpdateMarker)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return applied, fmt.Errorf("remove update marker: %w", err)
	}
	return applied, nil
}

// StageUpdate appends names to the update list and then raises the marker.
func StageUpdate(dir string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	listPath := filepath.Join(dir, UpdateList)
	existing, err := os.ReadFile(listPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read update list: %w", err)
	}

	entries := strings.Fields(string(existing))
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e] = true
	}
	for _, n := range names {
		if !seen[n] {
			entries = append(entries, n)
			seen[n] = true
		}
	}

	if err := WriteFileAtomic(listPath, []byte(strings.Join(entries, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("write update list: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, UpdateMarker), nil, 0644); err != nil {
		return fmt.Errorf("write update marker: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
