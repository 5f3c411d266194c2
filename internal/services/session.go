// Package services holds the session lifecycle manager: the state machine
// and policy layer between the HTTP transport and the session store.
package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faultmaven/session-service/internal/events"
	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/store"
	"github.com/faultmaven/session-service/internal/ttl"
)

// transitions is the allowed status graph. A status maps to the set of
// states reachable from it; self-transitions are accepted as no-ops and
// deletion is physical removal, never a status write.
var transitions = map[model.Status][]model.Status{
	model.StatusActive:     {model.StatusInProgress, model.StatusCompleted, model.StatusAbandoned, model.StatusArchived},
	model.StatusInProgress: {model.StatusCompleted, model.StatusAbandoned, model.StatusArchived},
	model.StatusCompleted:  {model.StatusArchived},
	model.StatusAbandoned:  {model.StatusArchived},
	model.StatusArchived:   {model.StatusActive, model.StatusInProgress},
}

const (
	maxTitleRunes = 50

	// metadata key carrying a caller-supplied timeout override, in minutes
	timeoutMetadataKey = "timeout_minutes"
)

// Limits bounds conversation growth and per-user session counts.
type Limits struct {
	MaxMessagesPerSession  int
	MaxMessageContentBytes int
	MaxSessionsPerUser     int
}

// SessionService orchestrates session lifecycle operations over the store.
type SessionService struct {
	store        store.Store
	policy       ttl.Policy
	notifier     events.Notifier
	limits       Limits
	storeTimeout time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

func NewSessionService(st store.Store, policy ttl.Policy, notifier events.Notifier, limits Limits, storeTimeout time.Duration, log zerolog.Logger) *SessionService {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	return &SessionService{
		store:        st,
		policy:       policy,
		notifier:     notifier,
		limits:       limits,
		storeTimeout: storeTimeout,
		log:          log,
		now:          time.Now,
	}
}

// withClock overrides the service clock. Test hook.
func (s *SessionService) withClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// callCtx bounds a single store call so a slow backend surfaces as
// model.ErrStoreUnavailable instead of blocking the request indefinitely.
func (s *SessionService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *SessionService) deadline(sess *model.Session) time.Time {
	return s.policy.Deadline(sess.Status, sess.LastActivityAt, timeoutOverride(sess.Metadata))
}

// timeoutOverride extracts the per-session timeout override from metadata.
// JSON decoding yields float64 for numbers; ints appear from direct callers.
func timeoutOverride(metadata map[string]interface{}) *int {
	v, ok := metadata[timeoutMetadataKey]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		m := int(n)
		return &m
	}
	return nil
}

// CreateSession allocates a new active session for the request's user.
func (s *SessionService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}

	now := s.now().UTC()
	sess := &model.Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		ClientID:       req.ClientID,
		Title:          req.Title,
		Status:         model.StatusActive,
		Context:        map[string]interface{}{},
		Metadata:       map[string]interface{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}
	for k, v := range req.Metadata {
		sess.Metadata[k] = v
	}
	if req.TimeoutMinutes != nil {
		sess.Metadata[timeoutMetadataKey] = *req.TimeoutMinutes
	}
	if req.InitialMessage != nil && *req.InitialMessage != "" {
		msg, err := s.buildMessage(sess, "user", *req.InitialMessage, nil)
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, *msg)
		if sess.Title == nil {
			t := deriveTitle(*req.InitialMessage)
			sess.Title = &t
		}
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.store.Create(cctx, sess, s.deadline(sess)); err != nil {
		return nil, err
	}

	s.enforceSessionCap(ctx, userID)

	s.log.Info().
		Str("session_id", sess.SessionID).
		Str("user_id", userID).
		Msg("session created")
	s.notify(events.EventSessionCreated, sess)
	return sess, nil
}

// GetSession loads a session scoped to its owning user. Absence and
// cross-user access are indistinguishable.
func (s *SessionService) GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	if err := requireIDs(userID, sessionID); err != nil {
		return nil, err
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	return s.store.Get(cctx, userID, sessionID)
}

// UpdateSession applies a caller-driven patch: title, client_id, context and
// metadata merges, and explicit status transitions.
func (s *SessionService) UpdateSession(ctx context.Context, userID, sessionID string, patch model.UpdateSessionRequest) (*model.Session, error) {
	if err := requireIDs(userID, sessionID); err != nil {
		return nil, err
	}
	sess, err := s.readModifyWrite(ctx, userID, sessionID, func(sess *model.Session) error {
		if patch.Status != nil && *patch.Status != sess.Status {
			if err := validateTransition(sess.Status, *patch.Status); err != nil {
				return err
			}
			sess.Status = *patch.Status
			if sess.Status == model.StatusInProgress {
				sess.LastActivityAt = s.now().UTC()
			}
		}
		if patch.Title != nil {
			sess.Title = patch.Title
		}
		if patch.ClientID != nil {
			sess.ClientID = patch.ClientID
		}
		if patch.Context != nil {
			if sess.Context == nil {
				sess.Context = map[string]interface{}{}
			}
			for k, v := range patch.Context {
				sess.Context[k] = v
			}
		}
		if patch.Metadata != nil {
			if sess.Metadata == nil {
				sess.Metadata = map[string]interface{}{}
			}
			for k, v := range patch.Metadata {
				sess.Metadata[k] = v
			}
		}
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(events.EventSessionUpdated, sess)
	return sess, nil
}

// AddMessage appends a conversation message with a server-assigned
// identifier and timestamp.
func (s *SessionService) AddMessage(ctx context.Context, userID, sessionID, role, content string, metadata map[string]interface{}) (*model.Message, error) {
	if err := requireIDs(userID, sessionID); err != nil {
		return nil, err
	}
	if err := validateMessageInput(role, content); err != nil {
		return nil, err
	}

	var appended model.Message
	sess, err := s.readModifyWrite(ctx, userID, sessionID, func(sess *model.Session) error {
		msg, err := s.buildMessage(sess, role, content, metadata)
		if err != nil {
			return err
		}
		sess.Messages = append(sess.Messages, *msg)
		if sess.Title == nil && len(sess.Messages) == 1 {
			t := deriveTitle(content)
			sess.Title = &t
		}
		now := s.now().UTC()
		sess.LastActivityAt = now
		sess.UpdatedAt = now
		appended = *msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(events.EventSessionUpdated, sess)
	return &appended, nil
}

// Heartbeat renews the session's activity timestamp and TTL without
// touching status or content. Returns the new expiration deadline; the zero
// time means the session does not expire.
func (s *SessionService) Heartbeat(ctx context.Context, userID, sessionID string) (time.Time, error) {
	if err := requireIDs(userID, sessionID); err != nil {
		return time.Time{}, err
	}
	sess, err := s.readModifyWrite(ctx, userID, sessionID, func(sess *model.Session) error {
		now := s.now().UTC()
		sess.LastActivityAt = now
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	s.notify(events.EventSessionUpdated, sess)
	return s.deadline(sess), nil
}

// DeleteSession removes the session record. Idempotent: deleting an absent
// session succeeds silently.
func (s *SessionService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := requireIDs(userID, sessionID); err != nil {
		return err
	}

	// Load first so the emitted event can carry the final status. Absence
	// is not an error here.
	gctx, cancel := s.callCtx(ctx)
	sess, err := s.store.Get(gctx, userID, sessionID)
	cancel()
	if err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrDecode) {
		return err
	}

	dctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.store.Delete(dctx, userID, sessionID); err != nil {
		return err
	}
	if sess != nil {
		s.log.Info().
			Str("session_id", sessionID).
			Str("user_id", userID).
			Msg("session deleted")
		s.notify(events.EventSessionDeleted, sess)
	}
	return nil
}

// ListSessions returns a lazy, restartable sequence of the user's sessions.
// Index members whose record the backing store has already expired are
// pruned as they are encountered, emitting an expired event.
func (s *SessionService) ListSessions(ctx context.Context, userID string, filter model.ListFilter) iter.Seq2[*model.Session, error] {
	return func(yield func(*model.Session, error) bool) {
		if strings.TrimSpace(userID) == "" {
			yield(nil, fmt.Errorf("%w: user_id is required", model.ErrValidation))
			return
		}

		lctx, cancel := s.callCtx(ctx)
		ids, err := s.store.ListIDs(lctx, userID)
		cancel()
		if err != nil {
			yield(nil, err)
			return
		}
		sort.Strings(ids)

		for _, id := range ids {
			gctx, cancel := s.callCtx(ctx)
			sess, err := s.store.Get(gctx, userID, id)
			cancel()
			if errors.Is(err, model.ErrNotFound) {
				s.expireIndexEntry(ctx, userID, id)
				continue
			}
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !matchFilter(sess, filter) {
				continue
			}
			if !yield(sess, nil) {
				return
			}
		}
	}
}

// SessionStats summarises message count and duration for a session.
func (s *SessionService) SessionStats(ctx context.Context, userID, sessionID string) (*model.SessionStats, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &model.SessionStats{
		SessionID:       sess.SessionID,
		MessageCount:    len(sess.Messages),
		DurationSeconds: int64(sess.LastActivityAt.Sub(sess.CreatedAt).Seconds()),
		Status:          sess.Status,
		CreatedAt:       sess.CreatedAt,
		LastActivityAt:  sess.LastActivityAt,
	}, nil
}

// Messages returns the conversation tail, newest-last, capped at limit.
// A non-positive limit returns the full conversation.
func (s *SessionService) Messages(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// --- internals ---

func requireIDs(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session_id is required", model.ErrValidation)
	}
	return nil
}

func validateTransition(from, to model.Status) error {
	if !model.KnownStatus(to) {
		return fmt.Errorf("%w: unknown status %q", model.ErrValidation, to)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &model.TransitionError{From: from, To: to}
}

var validRoles = map[string]bool{"user": true, "assistant": true, "system": true}

func validateMessageInput(role, content string) error {
	if !validRoles[role] {
		return fmt.Errorf("%w: role must be one of user, assistant, system", model.ErrValidation)
	}
	if content == "" {
		return fmt.Errorf("%w: content is required", model.ErrValidation)
	}
	return nil
}

// buildMessage assigns the next monotonic message ID and enforces
// conversation limits.
func (s *SessionService) buildMessage(sess *model.Session, role, content string, metadata map[string]interface{}) (*model.Message, error) {
	if s.limits.MaxMessagesPerSession > 0 && len(sess.Messages) >= s.limits.MaxMessagesPerSession {
		return nil, fmt.Errorf("%w: conversation already holds %d messages", model.ErrLimitExceeded, len(sess.Messages))
	}
	if s.limits.MaxMessageContentBytes > 0 && len(content) > s.limits.MaxMessageContentBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", model.ErrLimitExceeded, s.limits.MaxMessageContentBytes)
	}
	return &model.Message{
		MessageID: fmt.Sprintf("msg-%06d", len(sess.Messages)+1),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	}, nil
}

// readModifyWrite runs mutate against a fresh copy of the session and
// writes it back under the version token. A lost race is retried once
// against the then-current record before the conflict surfaces.
func (s *SessionService) readModifyWrite(ctx context.Context, userID, sessionID string, mutate func(*model.Session) error) (*model.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		gctx, cancel := s.callCtx(ctx)
		sess, err := s.store.Get(gctx, userID, sessionID)
		cancel()
		if err != nil {
			return nil, err
		}

		expected := sess.Version
		if err := mutate(sess); err != nil {
			return nil, err
		}

		uctx, cancel := s.callCtx(ctx)
		err = s.store.Update(uctx, sess, expected, s.deadline(sess))
		cancel()
		if err == nil {
			sess.Version = expected + 1
			return sess, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Debug().
			Str("session_id", sessionID).
			Msg("write conflict, retrying against current version")
	}
	return nil, lastErr
}

// enforceSessionCap evicts a user's oldest sessions, by last activity, once
// the configured cap is exceeded. Best-effort: failures are logged only.
func (s *SessionService) enforceSessionCap(ctx context.Context, userID string) {
	if s.limits.MaxSessionsPerUser <= 0 {
		return
	}
	var sessions []*model.Session
	for sess, err := range s.ListSessions(ctx, userID, model.ListFilter{}) {
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("session cap sweep aborted")
			return
		}
		sessions = append(sessions, sess)
	}
	excess := len(sessions) - s.limits.MaxSessionsPerUser
	if excess <= 0 {
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.Before(sessions[j].LastActivityAt)
	})
	for _, victim := range sessions[:excess] {
		if err := s.DeleteSession(ctx, userID, victim.SessionID); err != nil {
			s.log.Warn().Err(err).
				Str("session_id", victim.SessionID).
				Msg("session cap eviction failed")
			continue
		}
		s.log.Info().
			Str("session_id", victim.SessionID).
			Str("user_id", userID).
			Msg("session evicted by per-user cap")
	}
}

// expireIndexEntry reconciles an index member whose record the backing
// store has already reclaimed.
func (s *SessionService) expireIndexEntry(ctx context.Context, userID, sessionID string) {
	pctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.store.PruneIndex(pctx, userID, sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("index prune failed")
		return
	}
	s.notifier.Notify(events.Event{
		Name:       events.EventSessionExpired,
		SessionID:  sessionID,
		UserID:     userID,
		OccurredAt: s.now().UTC(),
	})
}

func (s *SessionService) notify(name events.EventName, sess *model.Session) {
	s.notifier.Notify(events.Event{
		Name:       name,
		SessionID:  sess.SessionID,
		UserID:     sess.UserID,
		OccurredAt: s.now().UTC(),
		Status:     sess.Status,
	})
}

func matchFilter(sess *model.Session, filter model.ListFilter) bool {
	if filter.Status != nil && sess.Status != *filter.Status {
		return false
	}
	if filter.Query != "" {
		if sess.Title == nil {
			return false
		}
		if !strings.Contains(strings.ToLower(*sess.Title), strings.ToLower(filter.Query)) {
			return false
		}
	}
	return true
}

// deriveTitle builds a session title from the first message: the leading
// runes of the content, trimmed at a word boundary when possible.
func deriveTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	cut := string(runes[:maxTitleRunes])
	if i := strings.LastIndex(cut, " "); i > maxTitleRunes/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
