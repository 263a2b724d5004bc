package env

import (
	"github.com/thatsimonsguy/webtimer/internal/config"
)

// Cfg is the loaded configuration, shared with metrics, notifications and shutdown.
var Cfg *config.Config
