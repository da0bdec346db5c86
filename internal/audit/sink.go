// Package audit carries transition and anomaly observations to an injected
// sink. The core fires and forgets; a slow or failed sink never blocks or
// fails a custody operation.
package audit

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// TransitionEvent describes one applied custody change.
type TransitionEvent struct {
	BatchID    string
	BatchCode  string
	From       domain.BatchStatus
	To         domain.BatchStatus
	Actor      string
	Location   string
	Reason     string
	ActionHash string
	OccurredAt time.Time
}

// Sink receives audit observations. Implementations must return quickly;
// callers do not wait on delivery.
type Sink interface {
	TransitionApplied(event TransitionEvent)
	AnomalyDetected(record domain.AnomalyRecord)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) TransitionApplied(TransitionEvent)    {}
func (NopSink) AnomalyDetected(domain.AnomalyRecord) {}

type entry struct {
	transition *TransitionEvent
	anomaly    *domain.AnomalyRecord
}

// LogSink writes observations to the process log from a single background
// goroutine. The buffer is bounded; when full, entries are dropped rather
// than blocking the caller.
type LogSink struct {
	entries chan entry
	dropped atomic.Int64
}

// NewLogSink starts the drain goroutine. A buffer of 0 falls back to 256.
func NewLogSink(buffer int) *LogSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &LogSink{entries: make(chan entry, buffer)}
	go s.drain()
	return s
}

func (s *LogSink) TransitionApplied(event TransitionEvent) {
	select {
	case s.entries <- entry{transition: &event}:
	default:
		s.dropped.Add(1)
		log.Printf("[AUDIT] buffer full, dropped transition event for batch %s", event.BatchCode)
	}
}

func (s *LogSink) AnomalyDetected(record domain.AnomalyRecord) {
	select {
	case s.entries <- entry{anomaly: &record}:
	default:
		s.dropped.Add(1)
		log.Printf("[AUDIT] buffer full, dropped anomaly %s", record.ID)
	}
}

// Dropped reports how many entries were discarded because the buffer was full.
func (s *LogSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the drain goroutine after the buffered entries are written.
// The sink must not be used after Close.
func (s *LogSink) Close() {
	close(s.entries)
}

func (s *LogSink) drain() {
	for e := range s.entries {
		switch {
		case e.transition != nil:
			t := e.transition
			log.Printf("[AUDIT] transition batch=%s %s->%s actor=%s location=%q hash=%s",
				t.BatchCode, t.From, t.To, t.Actor, t.Location, t.ActionHash)
		case e.anomaly != nil:
			a := e.anomaly
			log.Printf("[AUDIT] anomaly id=%s batch=%s type=%s severity=%s confidence=%d",
				a.ID, a.BatchID, a.Type, a.Severity, a.Confidence)
		}
	}
}
