package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// RecentRelayChanges returns up to limit relay transitions, newest first.
func RecentRelayChanges(db *sql.DB, limit int) ([]model.RelayChange, error) {
	rows, err := db.Query(`SELECT at, week_minute, previous, current, manual FROM relay_changes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay changes: %w", err)
	}
	defer rows.Close()

	var changes []model.RelayChange
	for rows.Next() {
		var c model.RelayChange
		var at string
		if err := rows.Scan(&at, &c.WeekMinute, &c.Previous, &c.Current, &c.Manual); err != nil {
			return nil, fmt.Errorf("failed to scan relay change: %w", err)
		}
		if c.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("failed to parse relay change time %q: %w", at, err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// RecentDistributions returns up to limit distribution events, newest first.
func RecentDistributions(db *sql.DB, limit int) ([]model.DistributionEvent, error) {
	rows, err := db.Query(`SELECT at, operation, outcome, detail FROM distribution_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution events: %w", err)
	}
	defer rows.Close()

	var events []model.DistributionEvent
	for rows.Next() {
		var ev model.DistributionEvent
		var at string
		if err := rows.Scan(&at, &ev.Operation, &ev.Outcome, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan distribution event: %w", err)
		}
		if ev.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("failed to parse distribution time %q: %w", at, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
