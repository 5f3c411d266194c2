// Package storetest holds a compliance suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/store"
)

func newSession(userID string) *model.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	title := "db timeout investigation"
	return &model.Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		Title:          &title,
		Status:         model.StatusActive,
		Context:        map[string]interface{}{"blast_radius": "single host"},
		Metadata:       map[string]interface{}{"session_type": "troubleshooting"},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}
}

// Run exercises the store contract against a driver. Implementations should
// provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	deadline := time.Now().Add(time.Hour)

	userID := "u-" + uuid.NewString()
	sess := newSession(userID)

	// Create + Get round trip
	if err := s.Create(ctx, sess, deadline); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, userID, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != sess.SessionID || got.UserID != userID || got.Version != 1 {
		t.Fatalf("Get: unexpected record %+v", got)
	}

	// Duplicate create conflicts
	if err := s.Create(ctx, sess, deadline); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate Create: want ErrConflict, got %v", err)
	}

	// Cross-user read and never-created read are the same error kind
	if _, err := s.Get(ctx, "u-other", sess.SessionID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("cross-user Get: want ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, userID, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("absent Get: want ErrNotFound, got %v", err)
	}

	// Versioned update succeeds once, then the stale token conflicts
	got.Status = model.StatusInProgress
	if err := s.Update(ctx, got, 1, deadline); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, got, 1, deadline); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("stale Update: want ErrConflict, got %v", err)
	}
	got, err = s.Get(ctx, userID, sess.SessionID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Version != 2 || got.Status != model.StatusInProgress {
		t.Fatalf("Get after update: version=%d status=%s", got.Version, got.Status)
	}

	// Index lists the session
	ids, err := s.ListIDs(ctx, userID)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != sess.SessionID {
		t.Fatalf("ListIDs: got %v", ids)
	}

	// Updating an absent record reports not found
	ghost := newSession(userID)
	if err := s.Update(ctx, ghost, 1, deadline); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Update absent: want ErrNotFound, got %v", err)
	}

	// Delete is idempotent
	if err := s.Delete(ctx, userID, sess.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, userID, sess.SessionID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Get(ctx, userID, sess.SessionID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get after delete: want ErrNotFound, got %v", err)
	}
	ids, err = s.ListIDs(ctx, userID)
	if err != nil {
		t.Fatalf("ListIDs after delete: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListIDs after delete: got %v", ids)
	}

	// PruneIndex drops stale members without touching records
	other := newSession(userID)
	if err := s.Create(ctx, other, deadline); err != nil {
		t.Fatalf("Create other: %v", err)
	}
	if err := s.PruneIndex(ctx, userID, other.SessionID); err != nil {
		t.Fatalf("PruneIndex: %v", err)
	}
	ids, err = s.ListIDs(ctx, userID)
	if err != nil {
		t.Fatalf("ListIDs after prune: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListIDs after prune: got %v", ids)
	}
	if _, err := s.Get(ctx, userID, other.SessionID); err != nil {
		t.Fatalf("Get after prune: %v", err)
	}

	// Ping
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
