package computer

import (
	"sync"
	"time"
)

const historyCapacity = 10

// CallRecord is one completed tool invocation.
type CallRecord struct {
	ReqID      string         `json:"req_id"`
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Timeout    float64        `json:"timeout"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// History is a bounded buffer of the most recent tool calls, oldest first.
// Once full, a new record evicts the oldest.
type History struct {
	mu      sync.RWMutex
	records []CallRecord
}

func NewHistory() *History {
	return &History{}
}

// Add appends a record, evicting the oldest past capacity.
func (h *History) Add(record CallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	if len(h.records) > historyCapacity {
		h.records = h.records[len(h.records)-historyCapacity:]
	}
}

// Entries returns a snapshot, oldest first.
func (h *History) Entries() []CallRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CallRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Servers returns the server of each record, oldest first, so the desktop
// aggregator can weight recently used servers (most recent last).
func (h *History) Servers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	servers := make([]string, len(h.records))
	for i, record := range h.records {
		servers[i] = record.Server
	}
	return servers
}
