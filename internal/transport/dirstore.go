package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/signing"
)

// AccessKeyFile, when present at the store root, holds the access key the
// credential must match.
const AccessKeyFile = "access.key"

// DirStore is a remote store on a mounted directory, e.g. an NFS export shared
// between the server and its hosts.
type DirStore struct {
	root string
}

func NewDirStore(root, credential string) (*DirStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w: %w", root, model.ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store %s: %w: not a directory", root, model.ErrIO)
	}

	key, err := os.ReadFile(filepath.Join(root, AccessKeyFile))
	switch {
	case err == nil:
		if !signing.ValidAccessKey(string(bytes.TrimSpace(key)), credential) {
			return nil, fmt.Errorf("open store %s: %w", root, ErrAuth)
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("root", root).Msg("Store has no access key, accepting any credential")
	default:
		return nil, fmt.Errorf("read access key: %w: %w", model.ErrIO, err)
	}

	return &DirStore{root: root}, nil
}

func (s *DirStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" {
		return s.root, nil
	}
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("remote path %q escapes store root", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", p, model.ErrIO, err)
	}
	return data, nil
}

func (s *DirStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("put %s: %w: %w", p, model.ErrIO, err)
	}
	if err := writeAtomic(full, data); err != nil {
		return fmt.Errorf("put %s: %w: %w", p, model.ErrIO, err)
	}
	return nil
}

func (s *DirStore) Create(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create %s: %w: %w", p, model.ErrIO, err)
	}

	file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create %s: %w", p, ErrExist)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w: %w", p, model.ErrIO, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("create %s: %w: %w", p, model.ErrIO, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("create %s: %w: %w", p, model.ErrIO, err)
	}
	return file.Close()
}

func (s *DirStore) Push(ctx context.Context, localFile, remoteDir string) error {
	data, err := os.ReadFile(localFile)
	if err != nil {
		return fmt.Errorf("push %s: %w: %w", localFile, model.ErrIO, err)
	}
	return s.Put(ctx, path.Join(remoteDir, filepath.Base(localFile)), data)
}

func (s *DirStore) Pull(ctx context.Context, pattern, remoteDir, localDir string) ([]string, error) {
	names, err := s.match(pattern, remoteDir)
	if err != nil {
		return nil, err
	}

	var pulled []string
	for _, name := range names {
		data, err := s.Get(ctx, path.Join(remoteDir, name))
		if err != nil {
			return pulled, err
		}
		dst := filepath.Join(localDir, name)
		if err := writeAtomic(dst, data); err != nil {
			return pulled, fmt.Errorf("pull %s: %w: %w", name, model.ErrIO, err)
		}
		pulled = append(pulled, name)
	}
	return pulled, nil
}

func (s *DirStore) Delete(ctx context.Context, pattern, remoteDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	names, err := s.match(pattern, remoteDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		full, err := s.resolve(path.Join(remoteDir, name))
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w: %w", name, model.ErrIO, err)
		}
	}
	return nil
}

// match returns the sorted regular file names in remoteDir matching pattern.
func (s *DirStore) match(pattern, remoteDir string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	dir, err := s.resolve(remoteDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", remoteDir, model.ErrIO, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := path.Match(pattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
