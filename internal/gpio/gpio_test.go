package gpio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

func fakeBoard(t *testing.T) map[int]*gpiotest.Pin {
	t.Helper()

	board := map[int]*gpiotest.Pin{}
	origLookup, origInit := lookupPin, hostInit
	t.Cleanup(func() {
		lookupPin = origLookup
		hostInit = origInit
	})

	hostInit = func() error { return nil }
	lookupPin = func(bcm int) Pin {
		p, ok := board[bcm]
		if !ok {
			p = &gpiotest.Pin{N: fmt.Sprintf("GPIO%d", bcm), Num: bcm}
			board[bcm] = p
		}
		return p
	}
	return board
}

func TestDriver_RelayActiveHigh(t *testing.T) {
	board := fakeBoard(t)
	d, err := New(map[uint8]int{0: 17}, true, false)
	require.NoError(t, err)

	require.NoError(t, d.SetMode(0, ModeOutput))
	assert.Equal(t, gpio.Low, board[17].L)

	require.NoError(t, d.SetLevel(0, 1))
	assert.Equal(t, gpio.High, board[17].L)

	level, err := d.GetLevel(0)
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestDriver_RelayActiveLowBoard(t *testing.T) {
	board := fakeBoard(t)
	d, err := New(map[uint8]int{3: 10}, false, false)
	require.NoError(t, err)

	require.NoError(t, d.SetMode(3, ModeOutput))
	assert.Equal(t, gpio.High, board[10].L, "off on an active-low board is a high pin")

	require.NoError(t, d.SetLevel(3, 1))
	assert.Equal(t, gpio.Low, board[10].L)
}

func TestDriver_InvertedInput(t *testing.T) {
	board := fakeBoard(t)
	d, err := New(map[uint8]int{8: 12, 9: 6}, true, false)
	require.NoError(t, err)

	require.NoError(t, d.SetMode(8, ModeInputInverted))
	require.NoError(t, d.SetMode(9, ModeInput))
	board[12].L = gpio.High
	board[6].L = gpio.High

	level, err := d.GetLevel(8)
	require.NoError(t, err)
	assert.Equal(t, 0, level)

	level, err = d.GetLevel(9)
	require.NoError(t, err)
	assert.Equal(t, 1, level)

	err = d.SetLevel(8, 1)
	assert.ErrorIs(t, err, model.ErrUnsupported)
}

func TestDriver_Errors(t *testing.T) {
	fakeBoard(t)
	d, err := New(map[uint8]int{0: 17}, true, false)
	require.NoError(t, err)

	assert.ErrorIs(t, d.SetMode(5, ModeOutput), model.ErrUnsupported)

	_, err = d.GetLevel(0)
	assert.ErrorIs(t, err, model.ErrUnsupported)

	require.NoError(t, d.SetMode(0, ModeOutput))
	assert.Error(t, d.SetLevel(0, 2))
}

func TestDriver_SafeModeLeavesPinsAlone(t *testing.T) {
	board := fakeBoard(t)
	d, err := New(map[uint8]int{0: 17}, true, true)
	require.NoError(t, err)

	require.NoError(t, d.SetMode(0, ModeOutput))
	require.NoError(t, d.SetLevel(0, 1))
	assert.Equal(t, gpio.Low, board[17].L)
}

func TestDriver_AllOff(t *testing.T) {
	board := fakeBoard(t)
	d, err := New(map[uint8]int{0: 17, 1: 27, 8: 12}, true, false)
	require.NoError(t, err)

	require.NoError(t, d.SetMode(0, ModeOutput))
	require.NoError(t, d.SetMode(1, ModeOutput))
	require.NoError(t, d.SetMode(8, ModeOutput))
	require.NoError(t, d.SetLevel(0, 1))
	require.NoError(t, d.SetLevel(1, 1))
	require.NoError(t, d.SetLevel(8, 1))

	require.NoError(t, d.AllOff())
	assert.Equal(t, gpio.Low, board[17].L)
	assert.Equal(t, gpio.Low, board[27].L)
	assert.Equal(t, gpio.High, board[12].L, "digital outputs are not relays")
}
