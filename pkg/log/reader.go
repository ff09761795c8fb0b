package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	PeerID       string
	Zone         string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// Since and Until bound Timestamp to [Since, Until).
	Since *time.Time
	Until *time.Time
}

// Match reports whether event satisfies every set criterion.
func (f *Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.PeerID != "" && event.PeerID != f.PeerID:
		return false
	case f.Zone != "" && event.Zone != f.Zone:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Since != nil && event.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && !event.Timestamp.Before(*f.Until):
		return false
	}
	return true
}

// Reader streams events from a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens path and yields every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and yields events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A trailing partial record is reported as io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Stats summarizes a capture.
type Stats struct {
	Total       int
	ByCategory  map[Category]int
	ByLayer     map[Layer]int
	ByDirection map[Direction]int

	// ByConnection counts events per link session.
	ByConnection map[string]int

	SyncAccepted int
	SyncRejected int
	Corruptions  int
	Errors       int

	// MinQuality and LastQuality track the sync quality score.
	MinQuality  uint8
	LastQuality uint8

	First time.Time
	Last  time.Time
}

// Collect reads events from r until EOF and summarizes them.
func Collect(r *Reader) (*Stats, error) {
	st := &Stats{
		ByCategory:   make(map[Category]int),
		ByLayer:      make(map[Layer]int),
		ByDirection:  make(map[Direction]int),
		ByConnection: make(map[string]int),
		MinQuality:   100,
	}
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		st.add(ev)
	}
}

func (s *Stats) add(ev Event) {
	if s.Total == 0 || ev.Timestamp.Before(s.First) {
		s.First = ev.Timestamp
	}
	if ev.Timestamp.After(s.Last) {
		s.Last = ev.Timestamp
	}
	s.Total++
	s.ByCategory[ev.Category]++
	s.ByLayer[ev.Layer]++
	s.ByDirection[ev.Direction]++
	if ev.ConnectionID != "" {
		s.ByConnection[ev.ConnectionID]++
	}

	if ev.Sync != nil {
		if ev.Sync.Accepted {
			s.SyncAccepted++
		} else {
			s.SyncRejected++
		}
		s.LastQuality = ev.Sync.Quality
		if ev.Sync.Quality < s.MinQuality {
			s.MinQuality = ev.Sync.Quality
		}
	}
	if ev.Sheet != nil && ev.Sheet.Action == SheetCorrupted {
		s.Corruptions++
	}
	if ev.Error != nil {
		s.Errors++
	}
}
