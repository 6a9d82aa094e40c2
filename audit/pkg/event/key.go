package event

import (
	"fmt"
	"time"
)

// DeriveKey maps an event identity and timestamp to its archive key,
// "YYYY/MM/DD/<id>", using the calendar date of ts in UTC.
//
// The same id on the same day always yields the same key, so a re-ingested
// event overwrites its earlier payload.
func DeriveKey(id string, ts int64) string {
	t := time.UnixMilli(ts).UTC()
	return fmt.Sprintf("%d/%02d/%02d/%s", t.Year(), int(t.Month()), t.Day(), id)
}

// KeyFor is DeriveKey applied to an event.
func KeyFor(e *Event) string {
	return DeriveKey(e.ID, e.TS)
}
