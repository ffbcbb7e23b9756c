package order

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// JournalEntry is one line of the append-only execution log: a single
// order status transition. Price is nil when the venue has not reported
// an execution price yet.
type JournalEntry struct {
	Instrument string
	Timestamp  time.Time
	Side       core.SideType
	Status     core.OrderStatusType
	Size       float64
	Ref        string
	Price      *float64
}

// Journal records every order status transition, required for audit and
// trade reconstruction. Entries are only ever appended.
type Journal struct {
	mu      sync.Mutex
	w       *csv.Writer
	entries []JournalEntry
	log     logger.Logger
}

var journalHeader = []string{"instrument", "datetime", "side", "status", "size", "ref", "price"}

// NewJournal creates a journal writing CSV lines to w. Pass io.Discard to
// keep the log in memory only.
func NewJournal(w io.Writer, log logger.Logger) *Journal {
	j := &Journal{
		w:   csv.NewWriter(w),
		log: log,
	}

	if err := j.w.Write(journalHeader); err != nil {
		log.WithError(err).Error("journal header write failed")
	}
	j.w.Flush()

	return j
}

// Append records a status transition. Timestamps are journaled in ISO 8601.
func (j *Journal) Append(e JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, e)

	price := ""
	if e.Price != nil {
		price = strconv.FormatFloat(*e.Price, 'f', -1, 64)
	}

	record := []string{
		e.Instrument,
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.Side),
		string(e.Status),
		strconv.FormatFloat(e.Size, 'f', -1, 64),
		e.Ref,
		price,
	}

	if err := j.w.Write(record); err != nil {
		j.log.WithError(err).Error("journal write failed")
		return
	}
	j.w.Flush()
}

// Entries returns a copy of the journaled transitions for an instrument,
// or all of them when instrument is empty.
func (j *Journal) Entries(instrument string) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		if instrument == "" || e.Instrument == instrument {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of journaled transitions
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
