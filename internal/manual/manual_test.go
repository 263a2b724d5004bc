package manual

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/program"
)

func record(setpoints, timeout uint8) func() (program.ManualRecord, error) {
	return func() (program.ManualRecord, error) {
		return program.ManualRecord{Setpoints: setpoints, TimeoutMinutes: timeout}, nil
	}
}

func TestController_TimesOut(t *testing.T) {
	c := New()
	c.Arm()

	out, err := c.Step(100, record(0x01, 5))
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), out)
	assert.Equal(t, Active, c.State())
	assert.Equal(t, 100, c.StartMinute())

	out, err = c.Step(104, func() (program.ManualRecord, error) {
		t.Fatal("record must only be read on activation")
		return program.ManualRecord{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), out)
	assert.Equal(t, Active, c.State())

	out, err = c.Step(106, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x00), out)
	assert.Equal(t, Inactive, c.State())
	assert.Equal(t, -1, c.StartMinute())

	// stays off and does not re-activate without being armed again
	out, err = c.Step(107, record(0xFF, 10))
	require.NoError(t, err)
	assert.Equal(t, uint8(0x00), out)
	assert.Equal(t, Inactive, c.State())
}

func TestController_WrapsAroundWeek(t *testing.T) {
	c := New()
	c.Arm()

	_, err := c.Step(model.MinutesPerWeek-2, record(0x80, 5))
	require.NoError(t, err)

	out, _ := c.Step(2, nil)
	assert.Equal(t, uint8(0x80), out)
	assert.Equal(t, Active, c.State())

	out, _ = c.Step(3, nil)
	assert.Equal(t, uint8(0x00), out)
	assert.Equal(t, Inactive, c.State())
}

func TestController_NotArmedStaysOff(t *testing.T) {
	c := New()
	out, err := c.Step(10, record(0xFF, 10))
	require.NoError(t, err)
	assert.Zero(t, out)
	assert.Equal(t, Inactive, c.State())
}

func TestController_ReadErrorKeepsEligibility(t *testing.T) {
	c := New()
	c.Arm()

	_, err := c.Step(10, func() (program.ManualRecord, error) {
		return program.ManualRecord{}, errors.New("disk gone")
	})
	assert.Error(t, err)
	assert.Equal(t, Inactive, c.State())

	out, err := c.Step(11, record(0x03, 1))
	require.NoError(t, err)
	assert.Equal(t, uint8(0x03), out)
}

func TestController_Disarm(t *testing.T) {
	c := New()
	c.Arm()
	_, _ = c.Step(0, record(0x0F, 60))
	c.Disarm()

	out, _ := c.Step(1, nil)
	assert.Zero(t, out)
	assert.Equal(t, Inactive, c.State())
}
