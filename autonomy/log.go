package autonomy

import (
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/core"
)

// DecisionLog is the append-only audit trail of emitted decisions. Records
// are immutable once appended; readers always receive defensive copies.
type DecisionLog struct {
	mu      sync.RWMutex
	records []core.DecisionRecord
}

// NewDecisionLog constructs an empty decision log.
func NewDecisionLog() *DecisionLog { return &DecisionLog{} }

// Append adds a record to the log.
func (l *DecisionLog) Append(rec core.DecisionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of the full log, oldest first.
func (l *DecisionLog) Records() []core.DecisionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.DecisionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Since returns copies of the records appended at or after t.
func (l *DecisionLog) Since(t time.Time) []core.DecisionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []core.DecisionRecord
	for _, rec := range l.records {
		if !rec.Timestamp.Before(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (l *DecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
