package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/env"
)

const DefaultUnitPath = "/etc/systemd/system/webtimer.service"

// Service describes the systemd unit running the controller daemon.
type Service struct {
	UnitPath string
	Binary   string
	User     string
}

// ControllerUnit renders the unit file for s.
func ControllerUnit(s Service) string {
	user := s.User
	if user == "" {
		user = "root"
	}

	args := ""
	if env.Cfg != nil && env.Cfg.ConfigFile != "" {
		args = " --config " + env.Cfg.ConfigFile
	}
	workdir := "/"
	if env.Cfg != nil && env.Cfg.WorkDir != "" {
		workdir = env.Cfg.WorkDir
	}

	return fmt.Sprintf(`[Unit]
Description=Web timer relay controller
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, user, workdir, s.Binary, args)
}

// InstallControllerService writes the controller unit. Enabling it is left to systemctl.
func InstallControllerService(s Service) error {
	if s.Binary == "" {
		return fmt.Errorf("service binary not set")
	}
	if s.UnitPath == "" {
		s.UnitPath = DefaultUnitPath
	}
	if err := os.MkdirAll(filepath.Dir(s.UnitPath), 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(s.UnitPath, []byte(ControllerUnit(s)), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	log.Info().
		Str("unit", s.UnitPath).
		Str("binary", s.Binary).
		Msg("Controller service installed")
	return nil
}
