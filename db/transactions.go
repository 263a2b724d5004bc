package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

func RecordRelayChange(db *sql.DB, c model.RelayChange) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO relay_changes (at, week_minute, previous, current, manual) VALUES (?, ?, ?, ?, ?)`,
		c.At.UTC().Format(time.RFC3339), c.WeekMinute, c.Previous, c.Current, c.Manual)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert relay change: %w", err)
	}
	return tx.Commit()
}

func RecordDistribution(db *sql.DB, ev model.DistributionEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO distribution_events (at, operation, outcome, detail) VALUES (?, ?, ?, ?)`,
		ev.At.UTC().Format(time.RFC3339), ev.Operation, ev.Outcome, ev.Detail)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert distribution event: %w", err)
	}
	return tx.Commit()
}
