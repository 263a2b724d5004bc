package program

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known file names inside the controller's working directory.
const (
	SetFile      = "Program.set"
	ChannelsFile = "Program.channels"
	GuardsFile   = "Program.guards"
	UpdateMarker = "Program.update"
	UpdateList   = "Update.list"

	ProgramExt   = ".prog"
	UpdateSuffix = "_update"
)

// ReadProgramName returns the program named in Program.set.
func ReadProgramName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, SetFile))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("%s is empty", SetFile)
	}
	return strings.TrimSuffix(fields[0], ProgramExt), nil
}

// WriteFileAtomic writes data to a temp file, syncs it and renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
