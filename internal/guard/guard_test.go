package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

func TestEvaluate_ThresholdTable(t *testing.T) {
	tests := []struct {
		kind          model.Threshold
		value         float64
		conditionPass bool
	}{
		{model.Maximum, 30, false},
		{model.Maximum, 25, true},
		{model.Minimum, 20, false},
		{model.Minimum, 25, true},
		{model.HigherThan, 25, false},
		{model.HigherThan, 26, true},
		{model.LowerThan, 25, false},
		{model.LowerThan, 24, true},
		{model.EqualTo, 24, false},
		{model.EqualTo, 25, true},
		{model.UnequalTo, 25, false},
		{model.UnequalTo, 24, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			values := model.ChannelValues{5: tt.value}

			cond, trig := Evaluate([]model.Guard{{Type: model.Condition, ChannelID: 2, GuardID: 5, Threshold: tt.kind, Level: 25}}, values)
			assert.Equal(t, uint8(0x00), trig)
			assert.Equal(t, tt.conditionPass, cond&0x04 != 0)
			assert.Equal(t, uint8(0xFB), cond&0xFB)

			cond, trig = Evaluate([]model.Guard{{Type: model.Trigger, ChannelID: 2, GuardID: 5, Threshold: tt.kind, Level: 25}}, values)
			assert.Equal(t, uint8(0xFF), cond)
			assert.Equal(t, tt.conditionPass, trig == 0x04)
		})
	}
}

func TestEvaluate_CombinesConditionsByAndTriggersByOr(t *testing.T) {
	guards := []model.Guard{
		{Type: model.Condition, ChannelID: 1, GuardID: 16, Threshold: model.Maximum, Level: 50},
		{Type: model.Condition, ChannelID: 1, GuardID: 17, Threshold: model.Minimum, Level: 10},
		{Type: model.Trigger, ChannelID: 3, GuardID: 16, Threshold: model.HigherThan, Level: 100},
		{Type: model.Trigger, ChannelID: 3, GuardID: 8, Threshold: model.EqualTo, Level: 1},
	}
	values := model.ChannelValues{16: 40, 17: 5, 8: 1}

	cond, trig := Evaluate(guards, values)
	assert.Equal(t, uint8(0xFD), cond)
	assert.Equal(t, uint8(0x08), trig)

	// deterministic for identical inputs
	cond2, trig2 := Evaluate(guards, values)
	assert.Equal(t, cond, cond2)
	assert.Equal(t, trig, trig2)
}

func TestEvaluate_MissingValueReadsZero(t *testing.T) {
	cond, _ := Evaluate([]model.Guard{{Type: model.Condition, ChannelID: 0, GuardID: 18, Threshold: model.Minimum, Level: 1}}, model.ChannelValues{})
	assert.Equal(t, uint8(0xFE), cond)
}

func TestDutyCycleMask(t *testing.T) {
	channels := []model.Channel{
		{ID: 0, Type: model.OutputRelay, DutyCycle: 30},
		{ID: 1, Type: model.OutputRelay, DutyCycle: 0},
		{ID: 2, Type: model.OutputRelay, DutyCycle: 60},
		{ID: 16, Type: model.InputAnalog, DutyCycle: 0},
	}

	assert.Equal(t, uint8(0xFD), DutyCycleMask(0, channels))
	assert.Equal(t, uint8(0xFD), DutyCycleMask(29, channels))
	assert.Equal(t, uint8(0xFC), DutyCycleMask(30, channels))
	assert.Equal(t, uint8(0xFC), DutyCycleMask(59, channels))
}

func TestCompose_DutyCycleDominates(t *testing.T) {
	for duty := 0; duty < 256; duty++ {
		for trig := 0; trig < 256; trig += 17 {
			out := Compose(0xFF, 0xFF, uint8(trig), uint8(duty))
			assert.Zero(t, out&^uint8(duty))
		}
	}
}

func TestCompose_TriggerOverridesFailedConditions(t *testing.T) {
	out := Compose(0x00, 0x00, 0x01, 0xFF)
	assert.Equal(t, uint8(0x01), out)

	// conditions never add bits the schedule did not ask for
	assert.Equal(t, uint8(0x02), Compose(0x02, 0xFF, 0x00, 0xFF))
}

func TestScenario_ConditionSuppressesRelay(t *testing.T) {
	channels := []model.Channel{{ID: 0, Type: model.OutputRelay, DutyCycle: 30}}
	guards := []model.Guard{{Type: model.Condition, ChannelID: 0, GuardID: 5, Threshold: model.Maximum, Level: 25}}
	values := model.ChannelValues{5: 30}

	cond, trig := Evaluate(guards, values)
	assert.Zero(t, cond&0x01)

	for second := 0; second < 60; second++ {
		out := Compose(0xFF, cond, trig, DutyCycleMask(second, channels))
		assert.Zero(t, out&0x01, "second %d", second)
	}
}

func TestScenario_TriggerForcesRelayWithinDutyCycle(t *testing.T) {
	channels := []model.Channel{{ID: 0, Type: model.OutputRelay, DutyCycle: 30}}
	guards := []model.Guard{{Type: model.Trigger, ChannelID: 0, GuardID: 5, Threshold: model.Maximum, Level: 25}}
	values := model.ChannelValues{5: 20}

	cond, trig := Evaluate(guards, values)
	assert.Equal(t, uint8(0x01), trig&0x01)

	for second := 0; second < 60; second++ {
		out := Compose(0x00, cond, trig, DutyCycleMask(second, channels))
		if second < 30 {
			assert.Equal(t, uint8(0x01), out&0x01, "second %d", second)
		} else {
			assert.Zero(t, out&0x01, "second %d", second)
		}
	}
}
