package db

import (
	"fmt"
	"io"
	"time"
)

// HistoryCLI prints the latest relay changes and distribution events from the
// journal at dbPath.
func HistoryCLI(dbPath string, limit int, w io.Writer) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	changes, err := RecentRelayChanges(dbConn, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Relay changes:")
	for _, c := range changes {
		mode := "program"
		if c.Manual {
			mode = "manual"
		}
		fmt.Fprintf(w, "  %s  minute %5d  %08b -> %08b  %s\n",
			c.At.Local().Format(time.DateTime), c.WeekMinute, c.Previous, c.Current, mode)
	}

	events, err := RecentDistributions(dbConn, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Distribution events:")
	for _, ev := range events {
		fmt.Fprintf(w, "  %s  %-14s %-17s %s\n",
			ev.At.Local().Format(time.DateTime), ev.Operation, ev.Outcome, ev.Detail)
	}
	return nil
}
