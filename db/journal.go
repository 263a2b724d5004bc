package db

import (
	"database/sql"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// Journal records relay transitions and distribution outcomes. A nil Journal
// discards everything.
type Journal struct {
	DB *sql.DB
}

func (j *Journal) RecordRelayChange(c model.RelayChange) error {
	if j == nil || j.DB == nil {
		return nil
	}
	return RecordRelayChange(j.DB, c)
}

func (j *Journal) RecordDistribution(ev model.DistributionEvent) error {
	if j == nil || j.DB == nil {
		return nil
	}
	return RecordDistribution(j.DB, ev)
}
