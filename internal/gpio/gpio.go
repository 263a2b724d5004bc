package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
	ModeInputInverted
	ModeOutputInverted
)

func (m Mode) output() bool {
	return m == ModeOutput || m == ModeOutputInverted
}

func (m Mode) inverted() bool {
	return m == ModeInputInverted || m == ModeOutputInverted
}

// Pin is the subset of periph's gpio.PinIO the driver needs.
type Pin interface {
	Name() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	Out(l gpio.Level) error
}

// lookupPin resolves a BCM number to a pin. Tests swap it for gpiotest pins.
var lookupPin = func(bcm int) Pin {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", bcm))
	if p == nil {
		return nil
	}
	return p
}

var hostInit = func() error {
	_, err := host.Init()
	return err
}

type binding struct {
	pin  Pin
	mode Mode
}

// Driver exposes relay and digital channels as logical levels on GPIO pins.
type Driver struct {
	mu         sync.Mutex
	pins       map[uint8]int
	activeHigh bool
	safeMode   bool
	bound      map[uint8]binding
	last       map[uint8]int
}

// New initialises the GPIO host. pins maps channel ids to BCM numbers; activeHigh is
// the polarity of the relay board driving channels 0-7.
func New(pins map[uint8]int, activeHigh, safeMode bool) (*Driver, error) {
	if err := hostInit(); err != nil && !safeMode {
		return nil, fmt.Errorf("init gpio host: %w: %w", model.ErrIO, err)
	}
	return &Driver{
		pins:       pins,
		activeHigh: activeHigh,
		safeMode:   safeMode,
		bound:      map[uint8]binding{},
		last:       map[uint8]int{},
	}, nil
}

func (d *Driver) SetMode(channel uint8, mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bcm, ok := d.pins[channel]
	if !ok {
		return fmt.Errorf("channel %d has no gpio pin: %w", channel, model.ErrUnsupported)
	}

	// relays on an active-low board are driven inverted
	if channel < model.NumRelays && mode.output() && !d.activeHigh {
		if mode == ModeOutput {
			mode = ModeOutputInverted
		} else {
			mode = ModeOutput
		}
	}

	pin := lookupPin(bcm)
	if pin == nil {
		if d.safeMode {
			d.bound[channel] = binding{mode: mode}
			return nil
		}
		return fmt.Errorf("gpio %d for channel %d not found: %w", bcm, channel, model.ErrIO)
	}

	if d.safeMode {
		d.bound[channel] = binding{pin: pin, mode: mode}
		return nil
	}

	var err error
	if mode.output() {
		err = pin.Out(physical(0, mode))
	} else {
		err = pin.In(gpio.PullNoChange, gpio.NoEdge)
	}
	if err != nil {
		return fmt.Errorf("set mode on %s: %w: %w", pin.Name(), model.ErrIO, err)
	}

	d.bound[channel] = binding{pin: pin, mode: mode}
	log.Debug().
		Uint8("channel", channel).
		Int("bcm", bcm).
		Bool("output", mode.output()).
		Bool("inverted", mode.inverted()).
		Msg("GPIO mode set")
	return nil
}

// GetLevel returns the logical level (0 or 1) of channel.
func (d *Driver) GetLevel(channel uint8) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bound[channel]
	if !ok {
		return 0, fmt.Errorf("channel %d not configured: %w", channel, model.ErrUnsupported)
	}
	if b.pin == nil {
		return d.last[channel], nil
	}

	level := logical(b.pin.Read(), b.mode)
	d.observe(channel, level)
	return level, nil
}

// SetLevel drives channel to level and confirms the pin followed.
func (d *Driver) SetLevel(channel uint8, level int) error {
	if level != 0 && level != 1 {
		return fmt.Errorf("invalid level %d for channel %d", level, channel)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bound[channel]
	if !ok || !b.mode.output() {
		return fmt.Errorf("channel %d not configured as output: %w", channel, model.ErrUnsupported)
	}

	if d.safeMode || b.pin == nil {
		d.observe(channel, level)
		return nil
	}

	if err := b.pin.Out(physical(level, b.mode)); err != nil {
		return fmt.Errorf("drive %s: %w: %w", b.pin.Name(), model.ErrIO, err)
	}
	if got := logical(b.pin.Read(), b.mode); got != level {
		return fmt.Errorf("%s reads %d after driving %d: %w", b.pin.Name(), got, level, model.ErrIO)
	}
	d.observe(channel, level)
	return nil
}

// AllOff drives every configured relay output to 0.
func (d *Driver) AllOff() error {
	d.mu.Lock()
	var channels []int
	for ch, b := range d.bound {
		if ch < model.NumRelays && b.mode.output() {
			channels = append(channels, int(ch))
		}
	}
	d.mu.Unlock()
	sort.Ints(channels)

	var errs []error
	for _, ch := range channels {
		if err := d.SetLevel(uint8(ch), 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// observe logs a level only when it differs from the last one seen on the channel.
func (d *Driver) observe(channel uint8, level int) {
	prev, seen := d.last[channel]
	if seen && prev == level {
		return
	}
	d.last[channel] = level
	log.Debug().
		Uint8("channel", channel).
		Int("level", level).
		Bool("safe_mode", d.safeMode).
		Msg("GPIO level changed")
}

func physical(level int, mode Mode) gpio.Level {
	high := level == 1
	if mode.inverted() {
		high = !high
	}
	return gpio.Level(high)
}

func logical(l gpio.Level, mode Mode) int {
	high := l == gpio.High
	if mode.inverted() {
		high = !high
	}
	if high {
		return 1
	}
	return 0
}
