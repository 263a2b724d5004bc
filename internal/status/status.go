package status

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// RecordSize is the width of one status line including its newline.
const RecordSize = 64

type Item int

const (
	ProgramSet Item = iota
	WeekMinute
	ProgramSetpoints
	DutyCyclesMask
	TriggersMask
	ConditionsMask
	RelaySetpoints
	InputsOutputs

	itemCount
)

var labels = [itemCount]string{
	ProgramSet:       "Program Set",
	WeekMinute:       "Week Minute",
	ProgramSetpoints: "Program Setpoints [76543210]",
	DutyCyclesMask:   "Duty Cycles Mask [76543210]",
	TriggersMask:     "Triggers Mask [76543210]",
	ConditionsMask:   "Conditions Mask [76543210]",
	RelaySetpoints:   "Relay Setpoints [76543210]",
	InputsOutputs:    "Inputs/Outputs",
}

func (i Item) Label() string {
	if i < 0 || i >= itemCount {
		return fmt.Sprintf("item(%d)", int(i))
	}
	return labels[i]
}

// Writer keeps the status file as a fixed-size snapshot, one 64-byte record per item,
// and only rewrites a record when its value changes.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	last map[Item]string
}

// Open creates or truncates the status file and fills it with blank records.
func Open(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open status file: %w: %w", model.ErrIO, err)
	}

	w := &Writer{file: file, last: map[Item]string{}}
	for i := Item(0); i < itemCount; i++ {
		if _, err := file.WriteAt(Format(i, ""), int64(i)*RecordSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("initialise status file: %w: %w", model.ErrIO, err)
		}
	}
	return w, nil
}

// Update publishes value for item. It reports whether the record was rewritten.
func (w *Writer) Update(item Item, value string) (bool, error) {
	if item < 0 || item >= itemCount {
		return false, fmt.Errorf("unknown status item %d", int(item))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.last[item]; ok && prev == value {
		return false, nil
	}

	if _, err := w.file.WriteAt(Format(item, value), int64(item)*RecordSize); err != nil {
		delete(w.last, item)
		return false, fmt.Errorf("write status %q: %w: %w", item.Label(), model.ErrIO, err)
	}
	w.last[item] = value
	return true, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Format renders one record: "<label>: <value>" with the value right-aligned in 63 bytes.
func Format(item Item, value string) []byte {
	head := item.Label() + ": "
	width := RecordSize - 1 - len(head)
	if len(value) > width {
		value = value[:width]
	}
	line := head + fmt.Sprintf("%*s", width, value) + "\n"
	return []byte(line)
}

func FormatMask(m uint8) string {
	return fmt.Sprintf("%08b", m)
}

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func FormatWeekMinute(weekMinute int) string {
	day := weekMinute / (24 * 60)
	if day < 0 || day >= len(dayNames) {
		return fmt.Sprintf("%d", weekMinute)
	}
	rem := weekMinute % (24 * 60)
	return fmt.Sprintf("%d | %s %02d:%02d", weekMinute, dayNames[day], rem/60, rem%60)
}

// FormatValues renders a channel snapshot as "id:value|id:value" ordered by channel id.
func FormatValues(values model.ChannelValues) string {
	ids := make([]int, 0, len(values))
	for id := range values {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d:%.1f", id, values[uint8(id)]))
	}
	return strings.Join(parts, "|")
}
