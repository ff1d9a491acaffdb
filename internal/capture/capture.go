// Package capture records the network traffic observed during one browser
// page session. It is the data contract between the browser layer (which
// appends as CDP events arrive) and the manifest matcher (which queries on
// demand, pull-model).
package capture

import (
	"sync"
	"time"
)

// Exchange is one observed request/response pair.
type Exchange struct {
	// RequestID is the CDP identifier for the exchange; response bodies are
	// fetched by it. Synthetic entries may leave it empty.
	RequestID   string    `json:"-"`
	URL         string    `json:"url"`
	Method      string    `json:"method,omitempty"`
	ResourceTyp string    `json:"resource_type,omitempty"` // CDP resource type (Document, XHR, Media, ...)
	ContentType string    `json:"content_type,omitempty"`
	Status      int       `json:"status,omitempty"` // 0 until a response is seen
	Size        int64     `json:"size,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	Degraded    bool      `json:"degraded,omitempty"` // event arrived malformed; fields are best-effort
}

// Completed reports whether a response with a success-class status was seen.
// Redirects count: the redirect target shows up as its own exchange.
func (e Exchange) Completed() bool {
	return e.Status >= 200 && e.Status < 400
}

// Log is an insertion-ordered record of every exchange seen on one page.
// Appends come from the browser's event goroutines, reads from the matcher,
// so all access is mutex-guarded. A Log is bound to a single session and
// thrown away with it; nothing here is ever persisted.
type Log struct {
	mu       sync.Mutex
	entries  []Exchange
	statusOf map[string]int // request id → entry index, to patch status in later
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{statusOf: make(map[string]int)}
}

// Add appends an exchange for the given request id. Ids let a later
// response event update the entry recorded at request time; unknown or
// empty ids simply append.
func (l *Log) Add(id string, e Exchange) {
	if e.RequestID == "" {
		e.RequestID = id
	}
	if e.ObservedAt.IsZero() {
		e.ObservedAt = time.Now()
	}
	if e.URL == "" {
		e.Degraded = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id != "" {
		l.statusOf[id] = len(l.entries)
	}
	l.entries = append(l.entries, e)
}

// Complete patches the response side (status, content type, size) onto the
// exchange recorded for id. Responses for ids never seen are appended as
// degraded entries rather than dropped.
func (l *Log) Complete(id string, status int, contentType string, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.statusOf[id]; ok {
		l.entries[i].Status = status
		l.entries[i].ContentType = contentType
		if size > 0 {
			l.entries[i].Size = size
		}
		return
	}
	l.entries = append(l.entries, Exchange{
		Status:      status,
		ContentType: contentType,
		Size:        size,
		ObservedAt:  time.Now(),
		Degraded:    true,
	})
}

// Len returns the number of recorded exchanges.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of the log in insertion order.
func (l *Log) Snapshot() []Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Exchange, len(l.entries))
	copy(out, l.entries)
	return out
}

