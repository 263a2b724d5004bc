package signing

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// SignFile appends a signature line covering the file's whitespace-stripped content.
func (s *Signer) SignFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w: %w", path, model.ErrIO, err)
	}

	record := s.Record(StripWhitespace(data))

	var out bytes.Buffer
	out.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		out.WriteByte('\n')
	}
	out.WriteString(record + "\n")

	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w: %w", path, model.ErrIO, err)
	}
	return nil
}

// VerifyFile checks the signature on the last line of path. The line stays in place
// on success; a file that fails verification is removed.
func (s *Signer) VerifyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w: %w", path, model.ErrIO, err)
	}

	fields := bytes.Fields(data)
	valid := len(fields) > 0
	if valid {
		record := string(fields[len(fields)-1])
		content := bytes.Join(fields[:len(fields)-1], nil)
		valid = s.VerifyRecord(content, record)
	}
	if valid {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("Failed to remove file with invalid signature")
	}
	return fmt.Errorf("%s: %w", path, model.ErrInvalidSignature)
}
