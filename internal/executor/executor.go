package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/datadog"
	"github.com/thatsimonsguy/webtimer/internal/gpio"
	"github.com/thatsimonsguy/webtimer/internal/guard"
	"github.com/thatsimonsguy/webtimer/internal/manual"
	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/mutex"
	"github.com/thatsimonsguy/webtimer/internal/program"
	"github.com/thatsimonsguy/webtimer/internal/status"
)

// DefaultLockOwner identifies the executor in the work dir lock. It must differ from
// the updater's owner so the two never see each other's lock as their own.
const DefaultLockOwner = "executor"

type State int

const (
	Starting State = iota
	Running
	Reloading
	WaitingForProgram
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Reloading:
		return "reloading"
	case WaitingForProgram:
		return "waiting_for_program"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type RelayDriver interface {
	SetMode(channel uint8, mode gpio.Mode) error
	GetLevel(channel uint8) (int, error)
	SetLevel(channel uint8, level int) error
}

type SensorHub interface {
	ReadValue(ch model.Channel) (float64, error)
}

type Journal interface {
	RecordRelayChange(c model.RelayChange) error
}

// Result describes what one tick decided.
type Result struct {
	State            State
	WeekMinute       int
	Program          string
	Manual           bool
	ProgramSetpoints uint8
	Duty             uint8
	Conditions       uint8
	Triggers         uint8
	Relays           uint8
	Values           model.ChannelValues
}

// Executor runs the control tick against the program files in its work dir.
type Executor struct {
	dir       string
	driver    RelayDriver
	sensors   SensorHub
	status    *status.Writer
	journal   Journal
	notify    func(title, message string)
	lockOwner string

	state    State
	store    *program.Store
	manual   *manual.Controller
	channels []model.Channel
	guards   []model.Guard

	relays      uint8
	relaysKnown bool

	mu   sync.Mutex
	last Result
}

func New(dir string, driver RelayDriver, sensors SensorHub) *Executor {
	return &Executor{
		dir:       dir,
		driver:    driver,
		sensors:   sensors,
		notify:    func(string, string) {},
		lockOwner: DefaultLockOwner,
		state:     Starting,
		store:     program.NewStore(),
		manual:    manual.New(),
	}
}

func (e *Executor) WithStatus(w *status.Writer) *Executor {
	e.status = w
	return e
}

func (e *Executor) WithJournal(j Journal) *Executor {
	e.journal = j
	return e
}

func (e *Executor) WithNotifier(fn func(title, message string)) *Executor {
	e.notify = fn
	return e
}

func (e *Executor) WithLockOwner(owner string) *Executor {
	e.lockOwner = owner
	return e
}

func (e *Executor) State() State {
	return e.state
}

// Last returns the result of the most recent tick. It is safe to call from other
// goroutines.
func (e *Executor) Last() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Executor) remember(res Result) {
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
}

// Start clears a work dir lock left by a previous run of the executor, applies a
// pending update and loads the program. An invalid configuration is returned and
// must stop the process; missing program files leave the executor waiting for a
// program.
func (e *Executor) Start() error {
	if err := e.initRelays(); err != nil {
		return err
	}
	if _, err := mutex.ClearLeftoverLocal(e.dir, e.lockOwner); err != nil {
		log.Error().Err(err).Msg("Failed to clear leftover work dir lock")
	}

	if program.UpdatePending(e.dir) {
		applied, err := e.applyUpdate()
		if err != nil {
			log.Error().Err(err).Msg("Failed to apply pending update, loading current program")
		}
		if applied {
			return e.load(true)
		}
	}
	return e.load(false)
}

// initRelays configures the relay outputs and drives them off.
func (e *Executor) initRelays() error {
	for i := uint8(0); i < model.NumRelays; i++ {
		if err := e.driver.SetMode(i, gpio.ModeOutput); err != nil {
			return fmt.Errorf("set mode of relay %d: %w", i, err)
		}
	}
	return e.drive(0)
}

// Tick runs one control cycle at now. An error means the relay update of this tick
// was skipped; the next tick starts afresh.
func (e *Executor) Tick(now time.Time) (Result, error) {
	res := Result{WeekMinute: model.WeekMinute(now)}

	if program.UpdatePending(e.dir) {
		if err := e.reload(); err != nil {
			res.State = e.state
			e.remember(res)
			return res, err
		}
	}

	res.State = e.state
	if e.state != Running {
		e.publish(status.ProgramSet, "waiting for program")
		e.remember(res)
		return res, nil
	}

	res.Program = e.store.Name()
	res.Manual = e.store.Manual()
	res.Duty = guard.DutyCycleMask(now.Second(), e.channels)

	values, err := e.snapshot()
	if err != nil {
		return res, err
	}
	res.Values = values

	if res.Manual {
		setpoints, err := e.manual.Step(res.WeekMinute, e.store.ReadManual)
		if err != nil {
			return res, err
		}
		res.ProgramSetpoints = setpoints
		res.Conditions = 0xFF
		res.Relays = setpoints & res.Duty
	} else {
		setpoints, err := e.store.ReadSetpoints(res.WeekMinute)
		if err != nil {
			return res, err
		}
		res.ProgramSetpoints = setpoints
		res.Conditions, res.Triggers = guard.Evaluate(e.guards, values)
		res.Relays = guard.Compose(setpoints, res.Conditions, res.Triggers, res.Duty)
	}

	if err := e.drive(res.Relays); err != nil {
		return res, err
	}
	e.recordChange(now, res)
	e.publishResult(res)
	e.remember(res)
	return res, nil
}

// Run ticks every interval until ctx is cancelled.
func (e *Executor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := e.Tick(now); err != nil {
				log.Error().Err(err).Str("state", e.state.String()).Msg("Tick failed, relays not updated")
			}
		}
	}
}

// Close releases the program file.
func (e *Executor) Close() error {
	return e.store.Close()
}

func (e *Executor) reload() error {
	prev := e.state
	e.state = Reloading
	log.Info().Msg("Update marker found, reloading program")

	applied, err := e.applyUpdate()
	if err == nil && !applied {
		// updater still busy in the work dir
		e.state = prev
		return nil
	}
	if err == nil {
		err = e.load(true)
		if err == nil && e.state == WaitingForProgram {
			err = fmt.Errorf("%w: update left no loadable program", model.ErrConfigInvalid)
		}
	}
	if err != nil {
		e.fail(err, prev)
		return err
	}
	return nil
}

// applyUpdate renames staged files under the work dir lock. It reports false when
// the lock is held by someone else.
func (e *Executor) applyUpdate() (bool, error) {
	outcome, err := mutex.TryLockLocal(e.lockOwner, e.dir)
	if err != nil {
		return false, err
	}
	if !outcome.Held() {
		log.Info().Msg("Work dir locked, update deferred")
		return false, nil
	}
	if outcome == mutex.Acquired {
		defer func() {
			if err := mutex.ReleaseLocal(e.dir); err != nil {
				log.Error().Err(err).Msg("Failed to release work dir lock")
			}
		}()
	}

	applied, err := program.ApplyUpdate(e.dir)
	if err != nil {
		return false, fmt.Errorf("apply update: %w: %w", model.ErrIO, err)
	}
	log.Info().Strs("files", applied).Msg("Update applied")
	return true, nil
}

// load reads the channel and guard tables and opens the named program. A manual
// program is only armed when it arrived through an update.
func (e *Executor) load(viaUpdate bool) error {
	channels, err := program.LoadChannels(filepath.Join(e.dir, program.ChannelsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return e.wait("no channel table")
	}
	if err != nil {
		return err
	}
	guards, err := program.LoadGuards(filepath.Join(e.dir, program.GuardsFile))
	if err != nil {
		return err
	}

	name, err := program.ReadProgramName(e.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return e.wait("no program selected")
	}
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrConfigInvalid, err)
	}
	if err := e.store.Reload(e.dir, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return e.wait("program file missing")
		}
		return err
	}

	if err := e.setModes(channels); err != nil {
		return err
	}

	e.channels = channels
	e.guards = guards
	if name == model.ManualProgram && viaUpdate {
		e.manual.Arm()
	} else {
		e.manual.Disarm()
	}
	e.state = Running
	e.publish(status.ProgramSet, name)

	log.Info().
		Str("program", name).
		Int("channels", len(channels)).
		Int("guards", len(guards)).
		Bool("manual", e.store.Manual()).
		Msg("Program loaded")
	return nil
}

func (e *Executor) wait(reason string) error {
	e.store.Close()
	e.state = WaitingForProgram
	log.Warn().Str("reason", reason).Msg("Waiting for program")
	return nil
}

// fail drives every relay off and waits for the next update. Only the first failure
// after running is notified.
func (e *Executor) fail(err error, prev State) {
	e.store.Close()
	e.manual.Disarm()
	e.state = WaitingForProgram

	if derr := e.drive(0); derr != nil {
		log.Error().Err(derr).Msg("Failed to drive relays off after reload failure")
	} else {
		now := time.Now()
		e.recordChange(now, Result{WeekMinute: model.WeekMinute(now)})
	}
	log.Error().Err(err).Msg("Reload failed, relays off until next update")
	if prev != WaitingForProgram {
		e.notify("Program reload failed", err.Error())
	}
}

// setModes configures the digital channels. Relays keep the mode set by initRelays so
// a reload does not pulse them.
func (e *Executor) setModes(channels []model.Channel) error {
	for _, ch := range channels {
		var mode gpio.Mode
		switch ch.Type {
		case model.InputDigital:
			mode = gpio.ModeInput
			if ch.Inverted() {
				mode = gpio.ModeInputInverted
			}
		case model.OutputDigital:
			mode = gpio.ModeOutput
			if ch.Inverted() {
				mode = gpio.ModeOutputInverted
			}
		default:
			continue
		}
		if err := e.driver.SetMode(ch.ID, mode); err != nil {
			return fmt.Errorf("set mode of channel %d: %w", ch.ID, err)
		}
	}
	return nil
}

// snapshot reads digital channels through the driver and analog ones through the hub.
func (e *Executor) snapshot() (model.ChannelValues, error) {
	values := model.ChannelValues{}
	for _, ch := range e.channels {
		switch {
		case ch.Type == model.OutputRelay || ch.Type == model.NotConnected || ch.Type == model.OutputAnalog:
			continue
		case ch.IsDigital():
			level, err := e.driver.GetLevel(ch.ID)
			if err != nil {
				return nil, fmt.Errorf("read channel %d: %w", ch.ID, err)
			}
			values[ch.ID] = float64(level)
		case ch.IsAnalog():
			v, err := e.sensors.ReadValue(ch)
			if err != nil {
				return nil, fmt.Errorf("read channel %d: %w", ch.ID, err)
			}
			values[ch.ID] = v
		}
	}
	return values, nil
}

func (e *Executor) drive(relays uint8) error {
	for i := uint8(0); i < model.NumRelays; i++ {
		level := int(relays>>i) & 1
		if err := e.driver.SetLevel(i, level); err != nil {
			return fmt.Errorf("drive relay %d: %w", i, err)
		}
	}
	return nil
}

func (e *Executor) recordChange(now time.Time, res Result) {
	prev := e.relays
	known := e.relaysKnown
	e.relays = res.Relays
	e.relaysKnown = true

	if known && prev == res.Relays {
		return
	}

	log.Info().
		Str("previous", status.FormatMask(prev)).
		Str("current", status.FormatMask(res.Relays)).
		Int("week_minute", res.WeekMinute).
		Bool("manual", res.Manual).
		Msg("Relay setpoints changed")

	if e.journal == nil {
		return
	}
	err := e.journal.RecordRelayChange(model.RelayChange{
		At:         now,
		WeekMinute: res.WeekMinute,
		Previous:   prev,
		Current:    res.Relays,
		Manual:     res.Manual,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to journal relay change")
	}
}

func (e *Executor) publishResult(res Result) {
	e.publish(status.ProgramSet, res.Program)
	e.publish(status.WeekMinute, status.FormatWeekMinute(res.WeekMinute))
	e.publish(status.ProgramSetpoints, status.FormatMask(res.ProgramSetpoints))
	e.publish(status.DutyCyclesMask, status.FormatMask(res.Duty))
	e.publish(status.TriggersMask, status.FormatMask(res.Triggers))
	e.publish(status.ConditionsMask, status.FormatMask(res.Conditions))
	e.publish(status.RelaySetpoints, status.FormatMask(res.Relays))
	e.publish(status.InputsOutputs, status.FormatValues(res.Values))

	datadog.Gauge("relay.setpoints", float64(res.Relays))
	for i := 0; i < model.NumRelays; i++ {
		datadog.Gauge("relay.state", float64((res.Relays>>i)&1), "relay:"+strconv.Itoa(i))
	}
	for id, v := range res.Values {
		datadog.Gauge("channel.value", v, "channel:"+strconv.Itoa(int(id)))
	}
}

func (e *Executor) publish(item status.Item, value string) {
	if e.status == nil {
		return
	}
	if _, err := e.status.Update(item, value); err != nil {
		log.Warn().Err(err).Str("item", item.Label()).Msg("Failed to publish status")
	}
}
