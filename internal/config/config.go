package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/sensor"
	"github.com/thatsimonsguy/webtimer/internal/signing"
)

const (
	DefaultConfigFile = "/etc/webtimer/config.yaml"
	DefaultLogFile    = "/var/log/webtimer.log"

	// SecretEnv overrides secret_file when set.
	SecretEnv = "WEBTIMER_SECRET"
)

// DefaultPins is the BCM wiring of channels 0-15 on the reference board.
var DefaultPins = map[uint8]int{
	0: 17, 1: 27, 2: 22, 3: 10, 4: 25, 5: 9, 6: 8, 7: 11,
	8: 12, 9: 6, 10: 13, 11: 16, 12: 19, 13: 20, 14: 26, 15: 21,
}

type GPIO struct {
	ActiveHigh bool          `yaml:"active_high"`
	Pins       map[uint8]int `yaml:"pins"`
}

type Sensors struct {
	IIODevice string                `yaml:"iio_device"`
	NTC       map[string]sensor.NTC `yaml:"ntc"`
}

type Distribution struct {
	Enabled       bool          `yaml:"enabled"`
	Remote        string        `yaml:"remote"`
	Credential    string        `yaml:"credential"`
	InboxDir      string        `yaml:"inbox_dir"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	Hash          string        `yaml:"hash"`
}

type History struct {
	DBPath string `yaml:"db_path"`
}

// API serves the read-only status endpoints. Port 0 disables it.
type API struct {
	Port int `yaml:"port"`
}

type Datadog struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type Config struct {
	ConfigFile string        `yaml:"-"`
	LogLevel   zerolog.Level `yaml:"-"`
	Secret     string        `yaml:"-"`

	LogFile      string        `yaml:"log_file"`
	WorkDir      string        `yaml:"work_dir"`
	StatusFile   string        `yaml:"status_file"`
	TickInterval time.Duration `yaml:"tick_interval"`
	SafeMode     bool          `yaml:"safe_mode"`
	HostID       string        `yaml:"host_id"`
	SecretFile   string        `yaml:"secret_file"`
	NtfyTopic    string        `yaml:"ntfy_topic"`

	GPIO         GPIO         `yaml:"gpio"`
	Sensors      Sensors      `yaml:"sensors"`
	Distribution Distribution `yaml:"distribution"`
	History      History      `yaml:"history"`
	Datadog      Datadog      `yaml:"datadog"`
	API          API          `yaml:"api"`
}

// Flags are the command-line settings shared by the daemon and the CLI.
type Flags struct {
	ConfigFile string
	LogLevel   string
	LogFile    string
	SafeMode   bool
}

func AddFlags(set *pflag.FlagSet) *Flags {
	f := &Flags{}
	set.StringVar(&f.ConfigFile, "config", DefaultConfigFile, "Path to the YAML config file")
	set.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	set.StringVar(&f.LogFile, "log-file", "", "Log file path, overrides log_file")
	set.BoolVar(&f.SafeMode, "safe-mode", false, "Never drive GPIO outputs")
	return f
}

// Load parses the daemon's arguments and loads the config they point at.
func Load(args []string) (*Config, error) {
	set := pflag.NewFlagSet("webtimer", pflag.ContinueOnError)
	flags := AddFlags(set)
	if err := set.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConfigInvalid, err)
	}
	return flags.Load(set)
}

// Load reads the config file and applies flag overrides. A missing file is only an
// error when --config was given explicitly.
func (f *Flags) Load(set *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(f.ConfigFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", model.ErrConfigInvalid, f.ConfigFile, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !set.Changed("config"):
	default:
		return nil, fmt.Errorf("%w: read %s: %w", model.ErrConfigInvalid, f.ConfigFile, err)
	}
	cfg.ConfigFile = f.ConfigFile

	level, err := zerolog.ParseLevel(f.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return nil, fmt.Errorf("%w: log level %q", model.ErrConfigInvalid, f.LogLevel)
	}
	cfg.LogLevel = level

	if set.Changed("log-file") {
		cfg.LogFile = f.LogFile
	} else if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if f.SafeMode {
		cfg.SafeMode = true
	}

	if err := cfg.loadSecret(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadSecret() error {
	if s := os.Getenv(SecretEnv); s != "" {
		cfg.Secret = s
		return nil
	}
	if cfg.SecretFile == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return fmt.Errorf("%w: read secret file: %w", model.ErrConfigInvalid, err)
	}
	cfg.Secret = strings.TrimSpace(string(data))
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/var/lib/webtimer"
	}
	if cfg.StatusFile == "" {
		cfg.StatusFile = "HostTimer.status"
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if len(cfg.GPIO.Pins) == 0 {
		cfg.GPIO.Pins = make(map[uint8]int, len(DefaultPins))
		for ch, pin := range DefaultPins {
			cfg.GPIO.Pins[ch] = pin
		}
	}
	if cfg.Sensors.IIODevice == "" {
		cfg.Sensors.IIODevice = "/sys/bus/iio/devices/iio:device0"
	}
	if len(cfg.Sensors.NTC) == 0 {
		cfg.Sensors.NTC = map[string]sensor.NTC{
			"NTC": {Beta: 3470, R0: 10000, T0: 25, PullUp: 10000, Decimals: 1},
		}
	}

	d := &cfg.Distribution
	if d.InboxDir == "" {
		d.InboxDir = "/var/lib/webtimer/inbox"
	}
	if d.PollInterval == 0 {
		d.PollInterval = time.Minute
	}
	if d.RetryAttempts == 0 {
		d.RetryAttempts = 3
	}
	if d.RetryBackoff == 0 {
		d.RetryBackoff = 5 * time.Second
	}
	if d.Hash == "" {
		d.Hash = signing.HashSHA256
	}

	if cfg.History.DBPath == "" {
		cfg.History.DBPath = "/var/lib/webtimer/history.db"
	}
	if cfg.Datadog.Addr == "" {
		cfg.Datadog.Addr = "127.0.0.1:8125"
	}
	if cfg.Datadog.Namespace == "" {
		cfg.Datadog.Namespace = "webtimer."
	}
}

// StatusPath resolves the status file against the work dir.
func (cfg *Config) StatusPath() string {
	if filepath.IsAbs(cfg.StatusFile) {
		return cfg.StatusFile
	}
	return filepath.Join(cfg.WorkDir, cfg.StatusFile)
}

// Validate reports every problem at once.
func (cfg *Config) Validate() error {
	var problems []string

	var missing []string
	for ch := uint8(0); ch < model.NumRelays; ch++ {
		if _, ok := cfg.GPIO.Pins[ch]; !ok {
			missing = append(missing, fmt.Sprintf("gpio.pins.%d", ch))
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing relay pins: "+strings.Join(missing, ", "))
	}

	channels := make([]int, 0, len(cfg.GPIO.Pins))
	for ch := range cfg.GPIO.Pins {
		channels = append(channels, int(ch))
	}
	sort.Ints(channels)

	usedPins := map[int]int{}
	for _, ch := range channels {
		pin := cfg.GPIO.Pins[uint8(ch)]
		if ch >= 16 {
			problems = append(problems, fmt.Sprintf("gpio.pins.%d: channel has no gpio", ch))
			continue
		}
		if pin < 0 || pin > 27 {
			problems = append(problems, fmt.Sprintf("gpio.pins.%d: bcm %d out of range", ch, pin))
			continue
		}
		if other, exists := usedPins[pin]; exists {
			problems = append(problems, fmt.Sprintf("gpio.pins.%d and gpio.pins.%d both use pin %d", other, ch, pin))
			continue
		}
		usedPins[pin] = ch
	}

	if cfg.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}

	d := cfg.Distribution
	if d.Enabled {
		if d.Remote == "" {
			problems = append(problems, "distribution.remote is required")
		}
		if cfg.Secret == "" {
			problems = append(problems, "distribution needs a secret ("+SecretEnv+" or secret_file)")
		}
		if d.PollInterval <= 0 {
			problems = append(problems, "distribution.poll_interval must be positive")
		}
	}
	if d.RetryAttempts < 1 {
		problems = append(problems, "distribution.retry_attempts must be at least 1")
	}
	if d.RetryBackoff < 0 {
		problems = append(problems, "distribution.retry_backoff must not be negative")
	}
	if d.Hash != signing.HashSHA256 && d.Hash != signing.HashBLAKE3 {
		problems = append(problems, fmt.Sprintf("distribution.hash %q unknown", d.Hash))
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		problems = append(problems, fmt.Sprintf("api.port %d out of range", cfg.API.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}
