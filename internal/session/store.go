// Package session implements the SessionStore half of spec §4.F: an
// in-memory, thread-safe map of session id to MigrationSession, with
// tenant-filtered listing for the ControlAPI and AuthGate's tenant
// isolation check. There is no persistence layer — spec §1's explicit
// non-goal.
package session

import (
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/artemis/migrationctl/internal/stepgraph"
)

// Store is the single cross-component shared mutable state spec §5 names:
// one mutex, short reads, the driver goroutine is the sole writer of any
// given MigrationSession's fields (readers take Clone snapshots).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.MigrationSession
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*model.MigrationSession)}
}

// Create synthesizes a session's StepGraph from cfg and stores it in
// status "pending". A cyclic or otherwise invalid step graph aborts
// creation before anything is stored, per spec scenario 4.
func (s *Store) Create(cfg model.MigrationConfig) (*model.MigrationSession, error) {
	steps, err := stepgraph.Build(cfg)
	if err != nil {
		return nil, err
	}

	sess := &model.MigrationSession{
		ID:        stepgraph.NewSessionID(),
		Config:    cfg,
		Status:    model.SessionPending,
		CreatedAt: time.Now().UTC(),
		Steps:     steps,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.Clone(), nil
}

// Get returns a snapshot of a session by id.
func (s *Store) Get(id string) (*model.MigrationSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &migerr.NotFoundError{Kind: "session", ID: id}
	}
	return sess.Clone(), nil
}

// mutable returns the live session pointer for the driver goroutine only;
// callers outside the orchestrator must use Get.
func (s *Store) mutable(id string) (*model.MigrationSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &migerr.NotFoundError{Kind: "session", ID: id}
	}
	return sess, nil
}

// Mutable exposes the live session pointer to the orchestrator package,
// the one component allowed to drive a session's fields directly. Every
// mutation through that pointer must be bracketed by Lock/Unlock (or
// RLock/RUnlock for a read that must observe a consistent snapshot of a
// single field) — the returned pointer itself is not synchronized, only
// the map lookup that produced it.
func (s *Store) Mutable(id string) (*model.MigrationSession, error) {
	return s.mutable(id)
}

// Lock acquires the store-wide write lock. The orchestrator holds it only
// for the span of a direct field mutation on a live session/step returned
// by Mutable — never across a blocking transfer/database call — so that
// Get/List's Clone-based reads have a proper happens-before relationship
// with those mutations instead of racing them.
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (s *Store) Unlock() { s.mu.Unlock() }

// RLock acquires the store-wide read lock, for a caller that needs to
// observe a live session's field(s) without itself holding Get/List's
// snapshot semantics (e.g. checking session status before deciding
// whether to mutate it).
func (s *Store) RLock() { s.mu.RLock() }

// RUnlock releases the lock acquired by RLock.
func (s *Store) RUnlock() { s.mu.RUnlock() }

// List returns snapshots of every session, optionally filtered by tenant.
// An empty tenantID returns every session (the admin-role view).
func (s *Store) List(tenantID string) []*model.MigrationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.MigrationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if tenantID != "" && sess.Config.TenantID != tenantID {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out
}

// Delete removes a session explicitly; there is no TTL-driven GC (spec §3
// "garbage-collected by an explicit caller action").
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
