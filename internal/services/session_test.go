package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultmaven/session-service/internal/events"
	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/store"
	"github.com/faultmaven/session-service/internal/store/memstore"
	"github.com/faultmaven/session-service/internal/ttl"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingNotifier) byName(name events.EventName) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *SessionService
	store    *memstore.Store
	notifier *recordingNotifier
	clock    *time.Time
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	now := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	st := memstore.NewWithClock(tick)
	notifier := &recordingNotifier{}
	svc := NewSessionService(st, ttl.New(180, 60, 480), notifier, limits, 2*time.Second, zerolog.Nop()).
		withClock(tick)
	return &fixture{svc: svc, store: st, notifier: notifier, clock: clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func strptr(s string) *string                { return &s }
func statusPtr(s model.Status) *model.Status { return &s }

func TestCreateSession(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	msg := "My database keeps timing out whenever the nightly batch job starts running"
	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{
		UserID:         "u1",
		InitialMessage: &msg,
		Metadata:       map[string]interface{}{"session_type": "troubleshooting"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, model.StatusActive, sess.Status)
	assert.Equal(t, int64(1), sess.Version)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "msg-000001", sess.Messages[0].MessageID)
	assert.Equal(t, "user", sess.Messages[0].Role)

	// Title derived from the first message at a word boundary.
	require.NotNil(t, sess.Title)
	assert.Equal(t, "My database keeps timing out whenever the nightly...", *sess.Title)

	got, err := f.svc.GetSession(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)

	assert.Len(t, f.notifier.byName(events.EventSessionCreated), 1)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.svc.CreateSession(context.Background(), model.CreateSessionRequest{UserID: "   "})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"My database keeps timing out", "My database keeps timing out"},
		{"  spaced    out   words  ", "spaced out words"},
		{strings.Repeat("a", 60), strings.Repeat("a", 50) + "..."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deriveTitle(tc.in), tc.in)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to model.Status
		ok       bool
	}{
		{model.StatusActive, model.StatusInProgress, true},
		{model.StatusActive, model.StatusCompleted, true},
		{model.StatusActive, model.StatusAbandoned, true},
		{model.StatusActive, model.StatusArchived, true},
		{model.StatusInProgress, model.StatusCompleted, true},
		{model.StatusInProgress, model.StatusAbandoned, true},
		{model.StatusInProgress, model.StatusArchived, true},
		{model.StatusInProgress, model.StatusActive, false},
		{model.StatusCompleted, model.StatusArchived, true},
		{model.StatusCompleted, model.StatusActive, false},
		{model.StatusCompleted, model.StatusInProgress, false},
		{model.StatusAbandoned, model.StatusArchived, true},
		{model.StatusAbandoned, model.StatusActive, false},
		{model.StatusArchived, model.StatusActive, true},
		{model.StatusArchived, model.StatusInProgress, true},
		{model.StatusArchived, model.StatusCompleted, false},
	}
	for _, tc := range cases {
		err := validateTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, model.ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}

	// Unknown target status is a validation error, not a transition error.
	err := validateTransition(model.StatusActive, model.Status("zombie"))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestUpdateSessionTransitions(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	got, err := f.svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Status: statusPtr(model.StatusInProgress),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)

	_, err = f.svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Status: statusPtr(model.StatusActive),
	})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	// Rejected transition must not have written anything.
	cur, err := f.svc.GetSession(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, cur.Status)
	assert.Equal(t, int64(2), cur.Version)

	// Same-status patch is a no-op accepted silently.
	got, err = f.svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Status: statusPtr(model.StatusInProgress),
		Title:  strptr("pool exhaustion"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pool exhaustion", *got.Title)
}

func TestUpdateSessionMergesMaps(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{
		UserID:   "u1",
		Metadata: map[string]interface{}{"a": "1", "b": "2"},
	})
	require.NoError(t, err)

	got, err := f.svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Context:  map[string]interface{}{"blast_radius": "rack"},
		Metadata: map[string]interface{}{"b": "3", "c": "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rack", got.Context["blast_radius"])
	assert.Equal(t, "1", got.Metadata["a"])
	assert.Equal(t, "3", got.Metadata["b"])
	assert.Equal(t, "4", got.Metadata["c"])
}

func TestUserIsolationIsIndistinguishableFromAbsence(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "owner"})
	require.NoError(t, err)

	_, crossErr := f.svc.GetSession(ctx, "intruder", sess.SessionID)
	_, absentErr := f.svc.GetSession(ctx, "owner", "never-created")
	assert.ErrorIs(t, crossErr, model.ErrNotFound)
	assert.ErrorIs(t, absentErr, model.ErrNotFound)
	assert.Equal(t, crossErr, absentErr)
}

func TestAddMessageOrderingAndLimits(t *testing.T) {
	f := newFixture(t, Limits{MaxMessagesPerSession: 3, MaxMessageContentBytes: 64})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	roles := []string{"user", "assistant", "user"}
	for i, role := range roles {
		msg, err := f.svc.AddMessage(ctx, "u1", sess.SessionID, role, fmt.Sprintf("message %d", i+1), nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%06d", i+1), msg.MessageID)
	}

	// Conversation full: next append is rejected and the record untouched.
	_, err = f.svc.AddMessage(ctx, "u1", sess.SessionID, "user", "one too many", nil)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)

	got, err := f.svc.GetSession(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	for i, m := range got.Messages {
		assert.Equal(t, fmt.Sprintf("msg-%06d", i+1), m.MessageID)
	}

	// Title came from the first appended message.
	require.NotNil(t, got.Title)
	assert.Equal(t, "message 1", *got.Title)

	_, err = f.svc.AddMessage(ctx, "u1", sess.SessionID, "operator", "hi", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAddMessageContentLimit(t *testing.T) {
	f := newFixture(t, Limits{MaxMessageContentBytes: 8})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.svc.AddMessage(ctx, "u1", sess.SessionID, "user", "this content is longer than eight bytes", nil)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
}

func TestMessagesTail(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.svc.AddMessage(ctx, "u1", sess.SessionID, "user", fmt.Sprintf("m%d", i+1), nil)
		require.NoError(t, err)
	}

	tail, err := f.svc.Messages(ctx, "u1", sess.SessionID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "m4", tail[0].Content)
	assert.Equal(t, "m5", tail[1].Content)

	all, err := f.svc.Messages(ctx, "u1", sess.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestHeartbeatRenewsDeadline(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	created := sess.LastActivityAt

	// 179 minutes into a 180-minute window, a heartbeat restarts the full
	// window from the renewal instant.
	f.advance(179 * time.Minute)
	deadline, err := f.svc.Heartbeat(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, created.Add(179*time.Minute).Add(180*time.Minute), deadline)

	f.advance(179 * time.Minute)
	if _, err := f.svc.GetSession(ctx, "u1", sess.SessionID); err != nil {
		t.Fatalf("session expired despite heartbeat: %v", err)
	}
}

func TestHeartbeatArchivedHasNoDeadline(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Status: statusPtr(model.StatusArchived),
	})
	require.NoError(t, err)

	deadline, err := f.svc.Heartbeat(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())
}

func TestDeleteSessionIdempotent(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(ctx, "u1", sess.SessionID))
	_, err = f.svc.GetSession(ctx, "u1", sess.SessionID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Absent and cross-user deletes succeed silently and emit nothing.
	require.NoError(t, f.svc.DeleteSession(ctx, "u1", sess.SessionID))
	require.NoError(t, f.svc.DeleteSession(ctx, "someone-else", sess.SessionID))
	assert.Len(t, f.notifier.byName(events.EventSessionDeleted), 1)
}

func TestListSessionsFilters(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	mk := func(title string) *model.Session {
		sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1", Title: strptr(title)})
		require.NoError(t, err)
		return sess
	}
	a := mk("database timeout")
	mk("kernel panic on boot")
	c := mk("Database migration stuck")

	_, err := f.svc.UpdateSession(ctx, "u1", a.SessionID, model.UpdateSessionRequest{
		Status: statusPtr(model.StatusCompleted),
	})
	require.NoError(t, err)

	collect := func(filter model.ListFilter) []*model.Session {
		var out []*model.Session
		for sess, err := range f.svc.ListSessions(ctx, "u1", filter) {
			require.NoError(t, err)
			out = append(out, sess)
		}
		return out
	}

	assert.Len(t, collect(model.ListFilter{}), 3)
	assert.Len(t, collect(model.ListFilter{Status: statusPtr(model.StatusActive)}), 2)

	completed := collect(model.ListFilter{Status: statusPtr(model.StatusCompleted)})
	require.Len(t, completed, 1)
	assert.Equal(t, a.SessionID, completed[0].SessionID)

	// Query matching is case-insensitive on the title.
	byQuery := collect(model.ListFilter{Query: "database"})
	assert.Len(t, byQuery, 2)
	byBoth := collect(model.ListFilter{Status: statusPtr(model.StatusActive), Query: "database"})
	require.Len(t, byBoth, 1)
	assert.Equal(t, c.SessionID, byBoth[0].SessionID)

	// Another user sees nothing.
	var other []*model.Session
	for sess, err := range f.svc.ListSessions(ctx, "u2", model.ListFilter{}) {
		require.NoError(t, err)
		other = append(other, sess)
	}
	assert.Empty(t, other)
}

func TestListSessionsPrunesExpired(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	f.advance(181 * time.Minute)

	var got []*model.Session
	for s, err := range f.svc.ListSessions(ctx, "u1", model.ListFilter{}) {
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Empty(t, got)

	expired := f.notifier.byName(events.EventSessionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, sess.SessionID, expired[0].SessionID)
	assert.Equal(t, "u1", expired[0].UserID)

	// The stale index member is gone; a second listing emits nothing new.
	for range f.svc.ListSessions(ctx, "u1", model.ListFilter{}) {
	}
	assert.Len(t, f.notifier.byName(events.EventSessionExpired), 1)
}

func TestPerUserSessionCap(t *testing.T) {
	f := newFixture(t, Limits{MaxSessionsPerUser: 2})
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	f.advance(time.Minute)
	second, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	f.advance(time.Minute)
	third, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	// Oldest by last activity is evicted; the cap never blocks creation.
	_, err = f.svc.GetSession(ctx, "u1", first.SessionID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.GetSession(ctx, "u1", second.SessionID)
	assert.NoError(t, err)
	_, err = f.svc.GetSession(ctx, "u1", third.SessionID)
	assert.NoError(t, err)

	deleted := f.notifier.byName(events.EventSessionDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, first.SessionID, deleted[0].SessionID)
}

func TestSessionStats(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	f.advance(90 * time.Second)
	_, err = f.svc.AddMessage(ctx, "u1", sess.SessionID, "user", "hello", nil)
	require.NoError(t, err)

	stats, err := f.svc.SessionStats(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, stats.SessionID)
	assert.Equal(t, 1, stats.MessageCount)
	assert.Equal(t, int64(90), stats.DurationSeconds)
	assert.Equal(t, model.StatusActive, stats.Status)
}

// conflictOnce wraps a store and fails the first Update with a write
// conflict, simulating a concurrent writer winning the race.
type conflictOnce struct {
	store.Store
	fired bool
}

func (c *conflictOnce) Update(ctx context.Context, sess *model.Session, expectedVersion int64, deadline time.Time) error {
	if !c.fired {
		c.fired = true
		return model.ErrConflict
	}
	return c.Store.Update(ctx, sess, expectedVersion, deadline)
}

func TestWriteConflictRetriesOnce(t *testing.T) {
	now := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	mem := memstore.NewWithClock(func() time.Time { return now })
	wrapped := &conflictOnce{Store: mem}
	svc := NewSessionService(wrapped, ttl.New(180, 60, 480), nil, Limits{}, 2*time.Second, zerolog.Nop()).
		withClock(func() time.Time { return now })
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	got, err := svc.UpdateSession(ctx, "u1", sess.SessionID, model.UpdateSessionRequest{
		Title: strptr("after retry"),
	})
	require.NoError(t, err)
	assert.Equal(t, "after retry", *got.Title)
	assert.True(t, wrapped.fired)
}

// conflictAlways loses every race.
type conflictAlways struct{ store.Store }

func (conflictAlways) Update(context.Context, *model.Session, int64, time.Time) error {
	return model.ErrConflict
}

func TestWriteConflictSurfacesAfterRetry(t *testing.T) {
	now := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	mem := memstore.NewWithClock(func() time.Time { return now })
	svc := NewSessionService(conflictAlways{mem}, ttl.New(180, 60, 480), nil, Limits{}, 2*time.Second, zerolog.Nop()).
		withClock(func() time.Time { return now })
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, model.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.Heartbeat(ctx, "u1", sess.SessionID)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestValidationErrorsOnBlankIDs(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	_, err := f.svc.GetSession(ctx, "", "s")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.GetSession(ctx, "u", "  ")
	assert.ErrorIs(t, err, model.ErrValidation)
	err = f.svc.DeleteSession(ctx, "", "s")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.Heartbeat(ctx, "u", "")
	assert.ErrorIs(t, err, model.ErrValidation)

	var listErr error
	for _, err := range f.svc.ListSessions(ctx, "   ", model.ListFilter{}) {
		listErr = err
	}
	assert.ErrorIs(t, listErr, model.ErrValidation)
}

func TestTransitionErrorCarriesEndpoints(t *testing.T) {
	err := validateTransition(model.StatusCompleted, model.StatusInProgress)
	var te *model.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StatusCompleted, te.From)
	assert.Equal(t, model.StatusInProgress, te.To)
}
