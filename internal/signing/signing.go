package signing

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/program"
)

const (
	SaltLength   = 32
	saltAlphabet = "a01b23c45d67e89f"
)

// Hash names accepted by NewSigner.
const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

type hashFunc func([]byte) []byte

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func blake3Sum(b []byte) []byte {
	sum := blake3.Sum256(b)
	return sum[:]
}

// Signer computes salted signatures keyed by a shared secret.
type Signer struct {
	secret []byte
	hash   hashFunc

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Signer)

// WithRand replaces the process-seeded generator used for salts.
func WithRand(r *rand.Rand) Option {
	return func(s *Signer) { s.rng = r }
}

func NewSigner(secret, hashName string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", model.ErrConfigInvalid)
	}

	s := &Signer{secret: []byte(secret)}
	switch hashName {
	case "", HashSHA256:
		s.hash = sha256Sum
	case HashBLAKE3:
		s.hash = blake3Sum
	default:
		return nil, fmt.Errorf("%w: unknown hash %q", model.ErrConfigInvalid, hashName)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns a fresh salt and the hex hash of salt, secret and content.
func (s *Signer) Sign(content []byte) (salt, hash string) {
	salt = s.newSalt()
	return salt, s.digest(salt, content)
}

// Verify reports whether hash is the signature of content under salt.
func (s *Signer) Verify(content []byte, salt, hash string) bool {
	want := s.digest(salt, content)
	return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1
}

// Record renders the signature record stored alongside signed content.
func (s *Signer) Record(content []byte) string {
	salt, hash := s.Sign(content)
	return salt + hash
}

// VerifyRecord checks a salt‖hash record against content.
func (s *Signer) VerifyRecord(content []byte, record string) bool {
	if len(record) <= SaltLength {
		return false
	}
	return s.Verify(content, record[:SaltLength], record[SaltLength:])
}

func (s *Signer) digest(salt string, content []byte) string {
	buf := make([]byte, 0, len(salt)+len(s.secret)+len(content))
	buf = append(buf, salt...)
	buf = append(buf, s.secret...)
	buf = append(buf, content...)
	return hex.EncodeToString(s.hash(buf))
}

func (s *Signer) newSalt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newSalt(s.rng)
}

func newSalt(rng *rand.Rand) string {
	out := make([]byte, SaltLength)
	for i := range out {
		var n int
		if rng != nil {
			n = rng.IntN(len(saltAlphabet))
		} else {
			n = rand.IntN(len(saltAlphabet))
		}
		out[i] = saltAlphabet[n]
	}
	return string(out)
}

// StripWhitespace removes every whitespace byte from b.
func StripWhitespace(b []byte) []byte {
	return bytes.Join(bytes.Fields(b), nil)
}

// Binary reports whether name holds binary program data. Staged names count as their
// target.
func Binary(name string) bool {
	switch filepath.Ext(strings.TrimSuffix(filepath.Base(name), program.UpdateSuffix)) {
	case program.ProgramExt, filepath.Ext(program.ChannelsFile), filepath.Ext(program.GuardsFile):
		return true
	}
	return false
}

// Content concatenates the bodies of files in order. Binary program files go in as
// they are; whitespace is stripped from text files only, since setpoint and record
// bytes may themselves be whitespace.
func Content(files []string) ([]byte, error) {
	var content []byte
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w: %w", f, model.ErrIO, err)
		}
		if Binary(f) {
			content = append(content, data...)
			continue
		}
		content = append(content, StripWhitespace(data)...)
	}
	return content, nil
}
