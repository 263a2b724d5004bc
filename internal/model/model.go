package model

import (
	"fmt"
	"time"
)

const (
	MinutesPerWeek = 7 * 24 * 60
	NumRelays      = 8
	MaxChannels    = 20
	MaxGuards      = 16

	// ManualProgram is the program name that switches the schedule into manual mode.
	ManualProgram = "MANUAL"
)

type ChannelType uint8

const (
	InputDigital ChannelType = iota
	InputAnalog
	OutputRelay
	OutputDigital
	OutputAnalog
	InputNtcThermistor
	NotConnected
)

var channelTypeNames = [...]string{
	"input_digital",
	"input_analog",
	"output_relay",
	"output_digital",
	"output_analog",
	"input_ntc_thermistor",
	"not_connected",
}

func (t ChannelType) String() string {
	if int(t) < len(channelTypeNames) {
		return channelTypeNames[t]
	}
	return fmt.Sprintf("channel_type(%d)", uint8(t))
}

func (t ChannelType) Valid() bool {
	return t <= NotConnected
}

// Digital model strings select the pin polarity.
const (
	ModelNormallyOpen   = "N.O."
	ModelNormallyClosed = "N.C."
)

type Channel struct {
	ID        uint8
	Name      string
	Type      ChannelType
	Model     string
	DutyCycle uint8
}

// Inverted reports whether the channel's logical level is the inverse of the pin level.
func (c Channel) Inverted() bool {
	return c.Model == ModelNormallyClosed
}

func (c Channel) IsDigital() bool {
	return c.Type == InputDigital || c.Type == OutputDigital
}

func (c Channel) IsAnalog() bool {
	return c.Type == InputAnalog || c.Type == InputNtcThermistor
}

type GuardType uint8

const (
	Condition GuardType = iota
	Trigger
	EndOfGuards
)

func (t GuardType) String() string {
	switch t {
	case Condition:
		return "condition"
	case Trigger:
		return "trigger"
	case EndOfGuards:
		return "end_of_guards"
	}
	return fmt.Sprintf("guard_type(%d)", uint8(t))
}

type Threshold uint8

const (
	Maximum Threshold = iota
	Minimum
	HigherThan
	LowerThan
	EqualTo
	UnequalTo
)

func (t Threshold) Valid() bool {
	return t <= UnequalTo
}

func (t Threshold) String() string {
	switch t {
	case Maximum:
		return "maximum"
	case Minimum:
		return "minimum"
	case HigherThan:
		return "higher_than"
	case LowerThan:
		return "lower_than"
	case EqualTo:
		return "equal_to"
	case UnequalTo:
		return "unequal_to"
	}
	return fmt.Sprintf("threshold(%d)", uint8(t))
}

type Guard struct {
	Type      GuardType
	ChannelID uint8 // target relay 0-7
	GuardID   uint8 // source channel
	Threshold Threshold
	Level     float32
}

// ChannelValues is the per-tick snapshot of channel readings keyed by channel id.
type ChannelValues map[uint8]float64

// WeekMinute returns the minute offset of t within its week, Monday 00:00 being 0.
func WeekMinute(t time.Time) int {
	day := (int(t.Weekday()) + 6) % 7
	return day*24*60 + t.Hour()*60 + t.Minute()
}

// ElapsedMinutes returns the forward distance from start to now on the weekly ring.
func ElapsedMinutes(start, now int) int {
	return ((now-start)%MinutesPerWeek + MinutesPerWeek) % MinutesPerWeek
}

type RelayChange struct {
	At         time.Time
	WeekMinute int
	Previous   uint8
	Current    uint8
	Manual     bool
}

type DistributionEvent struct {
	At        time.Time
	Operation string
	Outcome   string
	Detail    string
}
