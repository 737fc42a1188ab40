package observe

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sqlscout/sqlscout/internal/logging"
)

// Record is one audit entry, emitted per request. ErrorKind is set on
// failures and on truncated results, which stay status ok.
type Record struct {
	RequestID         string    `json:"request_id"`
	Question          string    `json:"question"`
	SQL               string    `json:"sql,omitempty"`
	ValidationOutcome string    `json:"validation_outcome,omitempty"`
	RowCount          int       `json:"row_count"`
	ElapsedMS         int64     `json:"elapsed_ms"`
	Status            string    `json:"status"`
	ErrorKind         string    `json:"error_kind,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// AuditSink writes audit records as JSON lines without ever blocking
// the request path. Records are dropped, and counted, when the buffer
// is full.
type AuditSink struct {
	records chan Record
	done    chan struct{}
	once    sync.Once
	out     io.Writer
}

// NewAuditSink starts a sink draining into out. Pass io.Discard to
// disable persistence while keeping the interface live.
func NewAuditSink(out io.Writer, buffer int) *AuditSink {
	if buffer <= 0 {
		buffer = 256
	}

	sink := &AuditSink{
		records: make(chan Record, buffer),
		done:    make(chan struct{}),
		out:     out,
	}

	go sink.drain()

	return sink
}

// Publish enqueues a record, dropping it when the buffer is full.
func (s *AuditSink) Publish(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case s.records <- record:
	default:
		AuditDropped.Inc()
	}
}

// Close stops the sink after draining buffered records.
func (s *AuditSink) Close() {
	s.once.Do(func() {
		close(s.records)
		<-s.done
	})
}

func (s *AuditSink) drain() {
	defer close(s.done)

	encoder := json.NewEncoder(s.out)

	for record := range s.records {
		if err := encoder.Encode(record); err != nil {
			logging.Warnf("failed to write audit record: %v", err)
		}
	}
}
