package session

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parkwalk/go-docent/internal/metrics"
	"github.com/parkwalk/go-docent/pkg/protocol"
)

// Store is the concurrency-safe registry of live sessions, keyed by
// client ID. It is the single owner of session lifecycle: create on
// register, remove on disconnect.
type Store struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	idLocks  map[string]*idLock
}

// idLock serializes create/remove per client ID so a reconnect blocks on
// the old session's teardown instead of racing it. refs counts holders
// and waiters; the entry is dropped once nobody needs it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty session store. A nil Metrics dependency is
// replaced with an unregistered set so sessions never have to guard it.
func NewStore(deps Deps, opts Options, logger *slog.Logger) *Store {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewWith(prometheus.NewRegistry())
	}
	return &Store{
		deps:     deps,
		opts:     opts,
		logger:   logger.With("component", "session.store"),
		sessions: make(map[string]*Session),
		idLocks:  make(map[string]*idLock),
	}
}

// Create registers a new session for clientID. If a session with the same
// ID still exists, it is fully torn down first; two consumer goroutines
// never run for one client ID concurrently.
func (st *Store) Create(clientID string, conn Conn, settings protocol.AudioSettings) *Session {
	lock := st.acquireID(clientID)
	defer st.releaseID(clientID, lock)

	st.mu.Lock()
	old := st.sessions[clientID]
	st.mu.Unlock()

	if old != nil {
		st.logger.Info("replacing existing session", "client_id", clientID)
		st.teardown(old)
	}

	sess := newSession(clientID, conn, settings, st.deps, st.opts, st.logger)

	st.mu.Lock()
	st.sessions[clientID] = sess
	st.mu.Unlock()

	st.deps.Metrics.SessionsCreated.Inc()
	st.deps.Metrics.ActiveSessions.Inc()
	st.logger.Info("session created", "client_id", clientID)
	return sess
}

// Get returns the live session for clientID, if any.
func (st *Store) Get(clientID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[clientID]
	return sess, ok
}

// Remove tears down and forgets the session for clientID. It blocks until
// the consumer goroutine has fully stopped. Removing an unknown ID is a
// no-op.
func (st *Store) Remove(clientID string) {
	lock := st.acquireID(clientID)
	defer st.releaseID(clientID, lock)

	st.mu.Lock()
	sess, ok := st.sessions[clientID]
	if ok {
		delete(st.sessions, clientID)
	}
	st.mu.Unlock()

	if !ok {
		return
	}
	st.teardown(sess)
	st.logger.Info("session removed", "client_id", clientID, "lifetime", sess.Age())
}

// RemoveIf tears down the session for clientID only while it is still the
// given one. A read loop whose session was replaced by a reconnect on the
// same ID uses this so its late disconnect cannot destroy the replacement.
// It reports whether a removal happened.
func (st *Store) RemoveIf(clientID string, sess *Session) bool {
	lock := st.acquireID(clientID)
	defer st.releaseID(clientID, lock)

	st.mu.Lock()
	cur, ok := st.sessions[clientID]
	if !ok || cur != sess {
		st.mu.Unlock()
		return false
	}
	delete(st.sessions, clientID)
	st.mu.Unlock()

	st.teardown(sess)
	st.logger.Info("session removed", "client_id", clientID, "lifetime", sess.Age())
	return true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// CloseAll tears down every session. Used on server shutdown.
func (st *Store) CloseAll() {
	st.mu.Lock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.Unlock()

	for _, id := range ids {
		st.Remove(id)
	}
}

// teardown closes a session and releases its context state.
// Callers must hold the session's ID lock.
func (st *Store) teardown(sess *Session) {
	sess.Close()
	if st.deps.Vision != nil {
		st.deps.Vision.Forget(sess.ID)
	}
	st.deps.Metrics.ActiveSessions.Dec()
	st.deps.Metrics.SessionsDestroyed.Inc()
	st.deps.Metrics.SessionDuration.Observe(sess.Age().Seconds())
}

// acquireID takes the per-client lifecycle lock, creating it on demand.
func (st *Store) acquireID(clientID string) *idLock {
	st.mu.Lock()
	lock, ok := st.idLocks[clientID]
	if !ok {
		lock = &idLock{}
		st.idLocks[clientID] = lock
	}
	lock.refs++
	st.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseID returns the lifecycle lock and drops the map entry once no
// holder or waiter remains, so unique client IDs do not accumulate.
func (st *Store) releaseID(clientID string, lock *idLock) {
	lock.mu.Unlock()

	st.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(st.idLocks, clientID)
	}
	st.mu.Unlock()
}
