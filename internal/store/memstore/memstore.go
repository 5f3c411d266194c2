// Package memstore implements store.Store in process memory. It backs the
// "memory" store driver used in development and tests. Expiration is lazy:
// a record past its deadline is treated as absent on read and reaped on the
// next write that touches it.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/sessionkey"
	"github.com/faultmaven/session-service/internal/store"
)

type record struct {
	data     []byte
	deadline time.Time // zero means no expiry
}

// Store is an in-memory session store safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	data  map[string]record
	index map[string]map[string]struct{} // user index key -> session IDs
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		data:  make(map[string]record),
		index: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// NewWithClock builds a store using the given clock. Tests use this to step
// time past deadlines without sleeping.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// live returns the record under key if present and not expired, reaping it
// otherwise. Caller must hold mu.
func (s *Store) live(key string) (record, bool) {
	rec, ok := s.data[key]
	if !ok {
		return record{}, false
	}
	if !rec.deadline.IsZero() && !s.now().Before(rec.deadline) {
		delete(s.data, key)
		return record{}, false
	}
	return rec, true
}

func (s *Store) Create(_ context.Context, sess *model.Session, deadline time.Time) error {
	data, err := sessionkey.Encode(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionkey.Primary(sess.UserID, sess.SessionID)
	if _, ok := s.live(key); ok {
		return fmt.Errorf("%w: session %s already exists", model.ErrConflict, sess.SessionID)
	}
	s.data[key] = record{data: data, deadline: deadline}

	idx := sessionkey.UserIndex(sess.UserID)
	if s.index[idx] == nil {
		s.index[idx] = make(map[string]struct{})
	}
	s.index[idx][sess.SessionID] = struct{}{}
	return nil
}

func (s *Store) Get(_ context.Context, userID, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	rec, ok := s.live(sessionkey.Primary(userID, sessionID))
	s.mu.Unlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	sess, err := sessionkey.Decode(rec.data)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || sess.SessionID != sessionID {
		return nil, fmt.Errorf("%w: record identity does not match key", model.ErrDecode)
	}
	return sess, nil
}

func (s *Store) Update(_ context.Context, sess *model.Session, expectedVersion int64, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionkey.Primary(sess.UserID, sess.SessionID)
	rec, ok := s.live(key)
	if !ok {
		return model.ErrNotFound
	}
	current, err := sessionkey.Decode(rec.data)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: version %d, expected %d", model.ErrConflict, current.Version, expectedVersion)
	}

	next := *sess
	next.Version = expectedVersion + 1
	data, err := sessionkey.Encode(&next)
	if err != nil {
		return err
	}
	if !deadline.IsZero() && !s.now().Before(deadline) {
		delete(s.data, key)
		return nil
	}
	s.data[key] = record{data: data, deadline: deadline}
	return nil
}

func (s *Store) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, sessionkey.Primary(userID, sessionID))
	if idx := s.index[sessionkey.UserIndex(userID)]; idx != nil {
		delete(idx, sessionID)
	}
	return nil
}

func (s *Store) ListIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index[sessionkey.UserIndex(userID)]
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) PruneIndex(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.index[sessionkey.UserIndex(userID)]; idx != nil {
		delete(idx, sessionID)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
