package program

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

const manualRecordSize = 2

type ManualRecord struct {
	Setpoints      uint8
	TimeoutMinutes uint8
}

// Store gives random access to the active program file.
type Store struct {
	mu     sync.Mutex
	file   *os.File
	name   string
	manual bool
}

func NewStore() *Store {
	return &Store{}
}

// Reload closes any open program and opens <name>.prog in dir.
func (s *Store) Reload(dir, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	path := filepath.Join(dir, name+ProgramExt)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open program %s: %w: %w", path, model.ErrIO, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat program %s: %w: %w", path, model.ErrIO, err)
	}

	manual := name == model.ManualProgram
	want := int64(model.MinutesPerWeek)
	if manual {
		want = manualRecordSize
	}
	if info.Size() != want {
		file.Close()
		return fmt.Errorf("%w: program %s is %d bytes, want %d", model.ErrConfigInvalid, path, info.Size(), want)
	}

	s.file = file
	s.name = name
	s.manual = manual
	return nil
}

func (s *Store) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Store) Manual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manual
}

// ReadSetpoints returns the relay mask scheduled for weekMinute.
func (s *Store) ReadSetpoints(weekMinute int) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, fmt.Errorf("%w: no program open", model.ErrIO)
	}
	if s.manual {
		return 0, fmt.Errorf("%w: program %s is a manual program", model.ErrIO, s.name)
	}
	if weekMinute < 0 || weekMinute >= model.MinutesPerWeek {
		return 0, fmt.Errorf("%w: week minute %d out of range", model.ErrIO, weekMinute)
	}

	buf := make([]byte, 1)
	if _, err := s.file.ReadAt(buf, int64(weekMinute)); err != nil {
		return 0, fmt.Errorf("read program at %d: %w: %w", weekMinute, model.ErrIO, err)
	}
	return buf[0], nil
}

// ReadManual returns the manual record regardless of the current minute.
func (s *Store) ReadManual() (ManualRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || !s.manual {
		return ManualRecord{}, fmt.Errorf("%w: no manual program open", model.ErrIO)
	}

	buf := make([]byte, manualRecordSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil && err != io.EOF {
		return ManualRecord{}, fmt.Errorf("read manual program: %w: %w", model.ErrIO, err)
	}
	return ManualRecord{Setpoints: buf[0], TimeoutMinutes: buf[1]}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.name = ""
	s.manual = false
	return err
}
