package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

var (
	ErrNotExist = errors.New("remote file does not exist")
	ErrExist    = errors.New("remote file already exists")
	ErrAuth     = errors.New("credential rejected")
)

// Transport moves files to and from a remote store. Remote paths are slash-separated
// and relative to the store root.
type Transport interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	// Create writes path only if it does not exist yet, returning ErrExist otherwise.
	Create(ctx context.Context, path string, data []byte) error
	Push(ctx context.Context, localFile, remoteDir string) error
	Pull(ctx context.Context, pattern, remoteDir, localDir string) ([]string, error)
	Delete(ctx context.Context, pattern, remoteDir string) error
}

// Open connects to the store at location using credential. Only file:// locations
// and plain paths are supported.
func Open(location, credential string) (Transport, error) {
	if location == "" {
		return nil, fmt.Errorf("empty remote location")
	}

	root := location
	if strings.Contains(location, "://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse remote location: %w", err)
		}
		if u.Scheme != "file" {
			return nil, fmt.Errorf("%w: transport scheme %q", model.ErrUnsupported, u.Scheme)
		}
		root = u.Path
	}
	store, err := NewDirStore(root, credential)
	if err != nil {
		return nil, err
	}
	return store, nil
}
