package mutex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/transport"
)

// LockName is the lock record file name, both remotely and locally.
const LockName = "Mutex.locked"

type Outcome int

const (
	Acquired Outcome = iota
	AlreadyOwnedBySelf
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyOwnedBySelf:
		return "already_owned_by_self"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Held reports whether the caller may proceed under the lock.
func (o Outcome) Held() bool {
	return o == Acquired || o == AlreadyOwnedBySelf
}

// RemoteLocation returns the lock record path inside a remote namespace.
func RemoteLocation(namespace string) string {
	return path.Join(namespace, LockName)
}

// record is a lock location holding an owner id.
type record interface {
	read() (string, bool, error)
	create(owner string) (bool, error)
}

// acquire reads the owner, creates the record if free and confirms by re-reading.
func acquire(r record, owner string) (Outcome, error) {
	if owner == "" {
		return Cancelled, fmt.Errorf("empty lock owner")
	}

	for attempt := 0; attempt < 2; attempt++ {
		current, present, err := r.read()
		if err != nil {
			return Cancelled, err
		}
		if present && current != "" {
			if current == owner {
				return AlreadyOwnedBySelf, nil
			}
			return Cancelled, nil
		}

		created, err := r.create(owner)
		if err != nil {
			return Cancelled, err
		}
		if !created {
			// someone else created it between our read and create
			continue
		}

		confirmed, _, err := r.read()
		if err != nil {
			return Cancelled, err
		}
		if confirmed != owner {
			return Cancelled, nil
		}
		return Acquired, nil
	}
	return Cancelled, nil
}

type remoteRecord struct {
	ctx      context.Context
	t        transport.Transport
	location string
}

func (r remoteRecord) read() (string, bool, error) {
	data, err := r.t.Get(r.ctx, r.location)
	if errors.Is(err, transport.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(bytes.TrimSpace(data)), true, nil
}

func (r remoteRecord) create(owner string) (bool, error) {
	err := r.t.Create(r.ctx, r.location, []byte(owner))
	if errors.Is(err, transport.ErrExist) {
		return false, nil
	}
	return err == nil, err
}

// TryLockRemote tries to take the lock record at location on the remote store.
func TryLockRemote(ctx context.Context, t transport.Transport, location, ownerID string) (Outcome, error) {
	outcome, err := acquire(remoteRecord{ctx: ctx, t: t, location: location}, ownerID)
	if err != nil {
		return Cancelled, fmt.Errorf("remote lock %s: %w", location, err)
	}
	log.Debug().
		Str("location", location).
		Str("owner", ownerID).
		Str("outcome", outcome.String()).
		Msg("Remote lock attempt")
	return outcome, nil
}

// ReleaseRemote deletes the lock record at location regardless of its owner.
func ReleaseRemote(ctx context.Context, t transport.Transport, location string) error {
	dir, name := path.Split(location)
	if err := t.Delete(ctx, name, dir); err != nil {
		return fmt.Errorf("release remote lock %s: %w", location, err)
	}
	log.Debug().Str("location", location).Msg("Remote lock released")
	return nil
}

type localRecord struct {
	path string
}

func (r localRecord) read() (string, bool, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	return string(bytes.TrimSpace(data)), true, nil
}

func (r localRecord) create(owner string) (bool, error) {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	if _, err := file.WriteString(owner); err != nil {
		file.Close()
		os.Remove(r.path)
		return false, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(r.path)
		return false, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	return true, file.Close()
}

// TryLockLocal tries to take the lock file in directory. AlreadyOwnedBySelf tells the
// caller an enclosing operation holds the lock and it must not be released.
func TryLockLocal(ownerID, directory string) (Outcome, error) {
	p := filepath.Join(directory, LockName)
	outcome, err := acquire(localRecord{path: p}, ownerID)
	if err != nil {
		return Cancelled, fmt.Errorf("local lock %s: %w", p, err)
	}
	log.Debug().
		Str("directory", directory).
		Str("owner", ownerID).
		Str("outcome", outcome.String()).
		Msg("Local lock attempt")
	return outcome, nil
}

// ReleaseLocal deletes the lock file in directory regardless of its owner.
func ReleaseLocal(directory string) error {
	err := os.Remove(filepath.Join(directory, LockName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release local lock %s: %w: %w", directory, model.ErrIO, err)
	}
	log.Debug().Str("directory", directory).Msg("Local lock released")
	return nil
}

// names reports whether owner is one of owners.
func names(owner string, owners []string) bool {
	for _, o := range owners {
		if o != "" && owner == o {
			return true
		}
	}
	return false
}

// ClearLeftoverLocal removes the lock file in directory when it names one of owners or
// is empty. It must only run at startup, before any of those owners is active: a lock
// left by a crash is otherwise seen as AlreadyOwnedBySelf and never released.
func ClearLeftoverLocal(directory string, owners ...string) (bool, error) {
	r := localRecord{path: filepath.Join(directory, LockName)}
	current, present, err := r.read()
	if err != nil {
		return false, fmt.Errorf("local lock %s: %w", directory, err)
	}
	if !present || (current != "" && !names(current, owners)) {
		return false, nil
	}
	if err := ReleaseLocal(directory); err != nil {
		return false, err
	}
	log.Warn().Str("directory", directory).Str("owner", current).Msg("Removed leftover local lock")
	return true, nil
}

// ClearLeftoverRemote removes the remote lock record at location when it names one of
// owners. Like ClearLeftoverLocal it is a startup-only recovery step. An empty remote
// record may be a peer's lock being written and is kept.
func ClearLeftoverRemote(ctx context.Context, t transport.Transport, location string, owners ...string) (bool, error) {
	r := remoteRecord{ctx: ctx, t: t, location: location}
	current, present, err := r.read()
	if err != nil {
		return false, fmt.Errorf("remote lock %s: %w", location, err)
	}
	if !present || !names(current, owners) {
		return false, nil
	}
	if err := ReleaseRemote(ctx, t, location); err != nil {
		return false, err
	}
	log.Warn().Str("location", location).Str("owner", current).Msg("Removed leftover remote lock")
	return true, nil
}
