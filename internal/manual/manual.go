package manual

import (
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/program"
)

type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

const unsetMinute = -1

// Controller runs the manual override: a fixed relay mask held for a number of minutes.
type Controller struct {
	armed       bool
	state       State
	setpoints   uint8
	timeout     int
	startMinute int
}

func New() *Controller {
	return &Controller{startMinute: unsetMinute}
}

// Arm makes the controller eligible to activate on the next step.
func (c *Controller) Arm() {
	c.armed = true
	c.state = Inactive
	c.setpoints = 0
	c.startMinute = unsetMinute
}

// Disarm drops any override, used when a regular program is loaded.
func (c *Controller) Disarm() {
	c.armed = false
	c.state = Inactive
	c.setpoints = 0
	c.startMinute = unsetMinute
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) StartMinute() int {
	return c.startMinute
}

// Step advances the override for weekMinute and returns the setpoints to drive
// before duty-cycle gating. read is only called on activation.
func (c *Controller) Step(weekMinute int, read func() (program.ManualRecord, error)) (uint8, error) {
	switch c.state {
	case Inactive:
		if !c.armed {
			return 0, nil
		}
		rec, err := read()
		if err != nil {
			return 0, err
		}
		c.armed = false
		c.state = Active
		c.setpoints = rec.Setpoints
		c.timeout = int(rec.TimeoutMinutes)
		c.startMinute = weekMinute

		log.Info().
			Str("setpoints", formatMask(c.setpoints)).
			Int("timeout_minutes", c.timeout).
			Int("start_minute", c.startMinute).
			Msg("Manual override activated")
		return c.setpoints, nil

	case Active:
		elapsed := model.ElapsedMinutes(c.startMinute, weekMinute)
		if elapsed >= c.timeout {
			log.Info().
				Int("elapsed_minutes", elapsed).
				Int("timeout_minutes", c.timeout).
				Msg("Manual override timed out")
			c.setpoints = 0
			c.state = Inactive
			c.startMinute = unsetMinute
		}
		return c.setpoints, nil
	}
	return 0, nil
}

func formatMask(m uint8) string {
	const digits = "01"
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = digits[(m>>(7-i))&1]
	}
	return string(out)
}
