package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekMinute(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"monday midnight", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0},
		{"monday 01:30", time.Date(2024, 1, 1, 1, 30, 59, 0, time.UTC), 90},
		{"tuesday midnight", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 1440},
		{"sunday last minute", time.Date(2024, 1, 7, 23, 59, 0, 0, time.UTC), MinutesPerWeek - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekMinute(tt.at))
		})
	}
}

func TestElapsedMinutes(t *testing.T) {
	assert.Equal(t, 4, ElapsedMinutes(100, 104))
	assert.Equal(t, 0, ElapsedMinutes(100, 100))
	assert.Equal(t, 3, ElapsedMinutes(MinutesPerWeek-2, 1))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitCancelled, ExitCode(fmt.Errorf("pull: %w", ErrLockContended)))
	assert.Equal(t, ExitError, ExitCode(fmt.Errorf("extract: %w", ErrInvalidSignature)))
	assert.Equal(t, "invalid_signature", Outcome(fmt.Errorf("x: %w", ErrInvalidSignature)))
	assert.Equal(t, "io_error", Outcome(fmt.Errorf("boom")))
}

func TestChannelPolarity(t *testing.T) {
	assert.True(t, Channel{Model: ModelNormallyClosed}.Inverted())
	assert.False(t, Channel{Model: ModelNormallyOpen}.Inverted())
	assert.True(t, Channel{Type: InputNtcThermistor}.IsAnalog())
	assert.True(t, Channel{Type: OutputDigital}.IsDigital())
}
