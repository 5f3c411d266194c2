// Package sessionkey maps sessions to storage keys and to their serialized
// byte form. User isolation rests entirely on the primary key embedding the
// owning user as a prefix segment; the store never performs a separate ACL
// check.
package sessionkey

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/faultmaven/session-service/internal/model"
)

const (
	primaryPrefix   = "session:"
	userIndexPrefix = "user_sessions:"

	// EnvelopeVersion tags the serialized schema so Decode can reject or
	// migrate older encodings.
	EnvelopeVersion = 1
)

// Primary returns the storage key for a session record.
func Primary(userID, sessionID string) string {
	return primaryPrefix + userID + ":" + sessionID
}

// UserPrefix returns the key prefix under which all of a user's session
// records live. Enumerating this prefix yields exactly one user's sessions.
func UserPrefix(userID string) string {
	return primaryPrefix + userID + ":"
}

// UserIndex returns the key of the secondary index holding a user's live
// session identifiers.
func UserIndex(userID string) string {
	return userIndexPrefix + userID
}

// SessionIDFromKey strips the user prefix from a primary key. Returns false
// when the key does not belong to the given user.
func SessionIDFromKey(userID, key string) (string, bool) {
	return strings.CutPrefix(key, UserPrefix(userID))
}

type envelope struct {
	V       int            `json:"v"`
	Session *model.Session `json:"session"`
}

// Encode serializes a session into its persisted byte form.
func Encode(s *model.Session) ([]byte, error) {
	b, err := json.Marshal(envelope{V: EnvelopeVersion, Session: s})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return b, nil
}

// Decode is the exact inverse of Encode. Any structural defect — truncated
// payload, unknown envelope version, unknown status, message entries missing
// required fields — fails with model.ErrDecode so corruption is never
// mistaken for absence.
func Decode(b []byte) (*model.Session, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if env.V != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", model.ErrDecode, env.V)
	}
	s := env.Session
	if s == nil || s.SessionID == "" || s.UserID == "" {
		return nil, fmt.Errorf("%w: missing session identity", model.ErrDecode)
	}
	if !model.KnownStatus(s.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrDecode, s.Status)
	}
	for i, m := range s.Messages {
		if m.MessageID == "" || m.Role == "" || m.Content == "" {
			return nil, fmt.Errorf("%w: message %d missing required fields", model.ErrDecode, i)
		}
	}
	return s, nil
}
