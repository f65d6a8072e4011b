package knowledge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/logging"
)

// Version is one superseded value of a key, recorded before an overwrite.
type Version struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	WriterID  string    `json:"writer_id"`
}

// Access is one entry of the store's access log.
type Access struct {
	Action    string    `json:"action"` // store, retrieve or query
	Key       string    `json:"key,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Results   int       `json:"results,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Store.
type Options struct {
	// Logger receives store diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Store is a process-local versioned key/value store. It is safe for
// concurrent use; the version-history append and the overwrite happen under
// one lock so no concurrent writer can interleave between them.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]any
	versions  map[string][]Version
	accessLog []Access
	logger    logging.Logger
}

// NewStore constructs an empty knowledge store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		entries:  make(map[string]any),
		versions: make(map[string][]Version),
		logger:   opts.Logger,
	}
}

// WithLogger overrides the store logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Store writes value under key on behalf of writerID. If the key already
// exists its current value is pushed onto the version history first.
func (s *Store) Store(key string, value any, writerID string) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok {
		s.versions[key] = append(s.versions[key], Version{Value: prev, Timestamp: now, WriterID: writerID})
	}
	s.entries[key] = value
	s.accessLog = append(s.accessLog, Access{Action: "store", Key: key, AgentID: writerID, Timestamp: now})
	s.logger.Debug("knowledge stored key=%s writer=%s", key, writerID)
}

// Retrieve returns the current value for key and whether it exists. The
// lookup is recorded in the access log.
func (s *Store) Retrieve(key, agentID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLog = append(s.accessLog, Access{Action: "retrieve", Key: key, AgentID: agentID, Timestamp: time.Now().UTC()})
	v, ok := s.entries[key]
	return v, ok
}

// Query returns every entry whose key contains pattern, case-insensitively.
func (s *Store) Query(pattern, agentID string) map[string]any {
	lowered := strings.ToLower(pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]any)
	for key, value := range s.entries {
		if strings.Contains(strings.ToLower(key), lowered) {
			result[key] = value
		}
	}
	s.accessLog = append(s.accessLog, Access{Action: "query", Pattern: pattern, Results: len(result), AgentID: agentID, Timestamp: time.Now().UTC()})
	return result
}

// History returns a copy of the version history for key, oldest first. An
// empty slice means the key was never overwritten.
func (s *Store) History(key string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]Version, len(s.versions[key]))
	copy(versions, s.versions[key])
	return versions
}

// Stats is a read-only usage snapshot of the store.
type Stats struct {
	TotalEntries     int      `json:"total_entries"`
	TotalAccesses    int      `json:"total_accesses"`
	DistinctAgents   int      `json:"distinct_agents"`
	MostAccessedKeys []string `json:"most_accessed_keys"`
}

// GetStats returns usage statistics including the five most accessed keys.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make(map[string]struct{})
	keyCounts := make(map[string]int)
	for _, a := range s.accessLog {
		if a.AgentID != "" {
			agents[a.AgentID] = struct{}{}
		}
		if a.Key != "" {
			keyCounts[a.Key]++
		}
	}

	keys := make([]string, 0, len(keyCounts))
	for k := range keyCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keyCounts[keys[i]] != keyCounts[keys[j]] {
			return keyCounts[keys[i]] > keyCounts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 5 {
		keys = keys[:5]
	}

	return Stats{
		TotalEntries:     len(s.entries),
		TotalAccesses:    len(s.accessLog),
		DistinctAgents:   len(agents),
		MostAccessedKeys: keys,
	}
}

// AccessLog returns a defensive copy of the full access log.
func (s *Store) AccessLog() []Access {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := make([]Access, len(s.accessLog))
	copy(log, s.accessLog)
	return log
}
