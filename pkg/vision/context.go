// Package vision tracks what each guide client is currently looking at.
//
// Detections arrive from an external camera/CV collaborator over HTTP and
// expire after a recency window; the conversation pipeline treats a stale
// subject as no subject at all.
package vision

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultFreshness is how long a detection stays usable as context.
const DefaultFreshness = 120 * time.Second

// Detection is one reported sighting for a client.
type Detection struct {
	// ClientID identifies which guide device the camera is paired with.
	ClientID string `json:"client_id"`

	// Label names the detected exhibit or animal.
	Label string `json:"label"`

	// Confidence is the detector's score (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// At is when the detection was made. Zero means "now".
	At time.Time `json:"at,omitempty"`
}

// Store holds the latest detection per client. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	latest    map[string]Detection
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFreshness overrides the recency window.
func WithFreshness(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l.With("component", "vision.store") }
}

// withClock overrides time for tests.
func withClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty detection store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		latest:    make(map[string]Detection),
		freshness: DefaultFreshness,
		logger:    slog.Default().With("component", "vision.store"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe records a detection, replacing any earlier one for the client.
func (s *Store) Observe(d Detection) {
	if d.ClientID == "" || d.Label == "" {
		return
	}
	if d.At.IsZero() {
		d.At = s.now()
	}

	s.mu.Lock()
	s.latest[d.ClientID] = d
	s.mu.Unlock()

	s.logger.Debug("detection recorded",
		"client_id", d.ClientID,
		"label", d.Label,
		"confidence", d.Confidence,
	)
}

// Subject returns the client's current subject of attention, if the
// latest detection is still fresh.
func (s *Store) Subject(clientID string) (string, bool) {
	s.mu.RLock()
	d, ok := s.latest[clientID]
	s.mu.RUnlock()

	if !ok {
		return "", false
	}
	if s.now().Sub(d.At) > s.freshness {
		return "", false
	}
	return d.Label, true
}

// Forget drops any detection state for a client. Called on session teardown.
func (s *Store) Forget(clientID string) {
	s.mu.Lock()
	delete(s.latest, clientID)
	s.mu.Unlock()
}

// Sweep removes stale entries and returns how many were dropped.
// Intended to run periodically so long-gone clients do not pin memory.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.freshness)

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for id, d := range s.latest {
		if d.At.Before(cutoff) {
			delete(s.latest, id)
			dropped++
		}
	}
	return dropped
}
