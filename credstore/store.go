// Package credstore provides durable persistence for the client's
// authentication credentials. A store holds at most one {token, user} pair;
// token and user are always written and cleared together, never
// independently.
//
// Two key namespaces exist historically: an older session path persisted
// under "auth_token"/"auth_user" and the current path under "token"/"user".
// Every implementation resolves both into one canonical reading so a session
// created via either path survives a reload, and Clear removes both.
package credstore

import (
	"encoding/json"

	"github.com/petal-labs/trellis/core"
)

// Credentials is the persisted session pair.
type Credentials struct {
	Token string    `json:"token"`
	User  core.User `json:"user"`
}

// Store persists credentials across client restarts.
//
// Read returns ok=false for absent or unreadable state; malformed stored
// data is treated as absent, never as an error, so corrupted persistence can
// never block startup.
type Store interface {
	// Read returns the stored credentials, if any.
	Read() (Credentials, bool, error)

	// Write stores the credentials, replacing any previous pair.
	Write(creds Credentials) error

	// Clear removes all recognized credential state, legacy keys included.
	Clear() error
}

// legacyEnvelope is the shape the older session path persisted.
type legacyEnvelope struct {
	AuthToken string          `json:"auth_token"`
	AuthUser  json.RawMessage `json:"auth_user"`
}

// canonicalEnvelope is the current on-disk shape.
type canonicalEnvelope struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// decodeEnvelope parses raw stored bytes, accepting both the canonical and
// the legacy shape. It returns ok=false when the bytes are malformed or
// carry no token.
func decodeEnvelope(raw []byte) (Credentials, bool) {
	if len(raw) == 0 {
		return Credentials{}, false
	}

	var canon canonicalEnvelope
	if err := json.Unmarshal(raw, &canon); err == nil && canon.Token != "" {
		return decodeUser(canon.Token, canon.User)
	}

	var legacy legacyEnvelope
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.AuthToken != "" {
		return decodeUser(legacy.AuthToken, legacy.AuthUser)
	}

	return Credentials{}, false
}

func decodeUser(token string, rawUser json.RawMessage) (Credentials, bool) {
	creds := Credentials{Token: token}
	if len(rawUser) == 0 {
		return creds, true
	}

	// The user field may itself be a doubly-encoded JSON string.
	var asString string
	if err := json.Unmarshal(rawUser, &asString); err == nil {
		rawUser = json.RawMessage(asString)
	}

	var shape map[string]any
	if err := json.Unmarshal(rawUser, &shape); err != nil {
		// A malformed user never blocks the token from being read; the
		// session controller's validity check decides what happens next.
		return creds, true
	}
	creds.User = core.NormalizeUser(shape)
	return creds, true
}
