package shutdown

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/env"
)

// Relays is anything that can drive every relay output off.
type Relays interface {
	AllOff() error
}

// ExitFunc ends the process. Tests replace it.
var ExitFunc = os.Exit

var (
	mu     sync.Mutex
	relays Relays
	hooks  []func()
)

// Register sets the relays driven off on shutdown.
func Register(r Relays) {
	mu.Lock()
	defer mu.Unlock()
	relays = r
}

// OnShutdown adds a hook run after the relays are off, e.g. closing the journal.
func OnShutdown(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, fn)
}

func Shutdown() {
	exit(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	exit(1)
}

func exit(code int) {
	mu.Lock()
	r, hs := relays, hooks
	mu.Unlock()

	if r != nil {
		if env.Cfg != nil && env.Cfg.SafeMode {
			log.Info().Msg("Safe mode, relays left untouched")
		} else if err := r.AllOff(); err != nil {
			log.Error().Err(err).Msg("Failed to drive relays off")
		} else {
			log.Info().Msg("All relays deactivated")
		}
	}
	for _, fn := range hs {
		fn()
	}
	ExitFunc(code)
}
