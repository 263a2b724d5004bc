package guard

import (
	"github.com/thatsimonsguy/webtimer/internal/model"
)

// Evaluate runs every guard against values and returns the condition and trigger masks.
// Conditions start all-pass and can only clear bits; triggers start empty and can only set them.
// A source channel with no reading counts as 0.
func Evaluate(guards []model.Guard, values model.ChannelValues) (conditions, triggers uint8) {
	conditions, triggers = 0xFF, 0x00

	for _, g := range guards {
		if g.ChannelID >= model.NumRelays {
			continue
		}
		bit := uint8(1) << g.ChannelID
		value := values[g.GuardID]
		level := float64(g.Level)

		switch g.Type {
		case model.Condition:
			if !satisfied(g.Threshold, value, level) {
				conditions &^= bit
			}
		case model.Trigger:
			if satisfied(g.Threshold, value, level) {
				triggers |= bit
			}
		}
	}
	return conditions, triggers
}

// satisfied reports whether value meets the threshold. A condition that is not satisfied
// suppresses its relay; a trigger that is satisfied forces it on.
func satisfied(kind model.Threshold, value, level float64) bool {
	switch kind {
	case model.Maximum:
		return value <= level
	case model.Minimum:
		return value >= level
	case model.HigherThan:
		return value > level
	case model.LowerThan:
		return value < level
	case model.EqualTo:
		return value == level
	case model.UnequalTo:
		return value != level
	}
	return false
}

// DutyCycleMask clears the bit of every relay whose duty cycle has elapsed for this second.
func DutyCycleMask(second int, channels []model.Channel) uint8 {
	mask := uint8(0xFF)
	for _, ch := range channels {
		if ch.ID >= model.NumRelays {
			continue
		}
		if second >= int(ch.DutyCycle) {
			mask &^= 1 << ch.ID
		}
	}
	return mask
}

// Compose merges the schedule with the guard masks; duty-cycle gating always wins.
func Compose(program, conditions, triggers, duty uint8) uint8 {
	return (triggers | (conditions & program)) & duty
}
