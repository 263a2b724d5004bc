package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/env"
)

// BaseURL is the ntfy server. Tests point it at an httptest server.
var BaseURL = "https://ntfy.sh"

var client *http.Client
var topic string
var initialized bool

// Init initializes the notification client
func Init() {
	if env.Cfg == nil || env.Cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	topic = env.Cfg.NtfyTopic
	initialized = true

	log.Info().
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Send posts a notification to the configured topic.
func Send(title, message string) error {
	if !initialized {
		return fmt.Errorf("notifications not initialized")
	}

	payload := map[string]interface{}{
		"topic":   topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest("POST", BaseURL+"/", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// Notify sends and logs a failure instead of returning it. Controller and updater
// paths use it where a lost alert must not stop the work.
func Notify(title, message string) {
	if !initialized {
		log.Debug().Str("title", title).Msg("Notification skipped, ntfy disabled")
		return
	}
	if err := Send(title, message); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
	}
}
