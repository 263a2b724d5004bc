package status

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

func TestFormat(t *testing.T) {
	rec := Format(RelaySetpoints, FormatMask(0x81))
	assert.Len(t, rec, RecordSize)
	assert.True(t, strings.HasPrefix(string(rec), "Relay Setpoints [76543210]: "))
	assert.True(t, strings.HasSuffix(string(rec), "10000001\n"))
}

func TestFormat_TruncatesLongValues(t *testing.T) {
	rec := Format(InputsOutputs, strings.Repeat("x", 200))
	assert.Len(t, rec, RecordSize)
	assert.Equal(t, byte('\n'), rec[RecordSize-1])
}

func TestFormatWeekMinute(t *testing.T) {
	assert.Equal(t, "0 | Mon 00:00", FormatWeekMinute(0))
	assert.Equal(t, "9330 | Sun 11:30", FormatWeekMinute(9330))
}

func TestFormatValues(t *testing.T) {
	got := FormatValues(model.ChannelValues{16: 21.44, 8: 1, 9: 0})
	assert.Equal(t, "8:1.0|9:0.0|16:21.4", got)
}

func TestWriter_DedupAndLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HostTimer.status")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(int(itemCount)*RecordSize), info.Size())

	changed, err := w.Update(ProgramSet, "Summer")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = w.Update(ProgramSet, "Summer")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = w.Update(RelaySetpoints, FormatMask(0x03))
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, int(itemCount)*RecordSize)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, int(itemCount))
	assert.True(t, strings.HasPrefix(lines[ProgramSet], "Program Set: "))
	assert.True(t, strings.HasSuffix(lines[ProgramSet], "Summer"))
	assert.True(t, strings.HasSuffix(lines[RelaySetpoints], "00000011"))
	assert.Equal(t, "Week Minute:", strings.TrimSpace(lines[WeekMinute]))
}

func TestWriter_RejectsUnknownItem(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "s"))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Update(Item(42), "x")
	assert.Error(t, err)
}
