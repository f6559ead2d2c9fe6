package usercache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common user cache errors.
var (
	// ErrNotFound indicates the user does not exist in the system of record.
	ErrNotFound = errors.New("user not found")

	// ErrCredentialField indicates a credential-marked field reached the
	// serialization boundary. Such entries are rejected, never stored.
	ErrCredentialField = errors.New("credential field in cache payload")

	// ErrUnknownKeyType indicates an unsupported alternate key type.
	ErrUnknownKeyType = errors.New("unknown alternate key type")

	// errCorruptPayload indicates a cached payload that does not decode to a
	// valid user. Treated as a miss by callers.
	errCorruptPayload = errors.New("corrupt cached payload")
)

// CachedUser is the serialization type for a cached user record. Field
// membership is fixed at compile time: credential material (password hashes,
// secret tokens) has no field to live in, so it cannot reach the cache
// through the typed portion at all. The free-form Profile map is guarded by
// an exclude-list at the serialization boundary instead.
type CachedUser struct {
	// ID is the immutable primary identifier.
	ID int64 `json:"id"`

	// Email is the primary alternate key. Normalization happens at the
	// key level; the payload keeps the value as loaded.
	Email string `json:"email"`

	// Username is an optional alternate key.
	Username string `json:"username,omitempty"`

	// Phone is an optional alternate key.
	Phone string `json:"phone,omitempty"`

	// Active indicates whether the account is active.
	Active bool `json:"active"`

	// DisplayName is the user's display name.
	DisplayName string `json:"displayName,omitempty"`

	// Role is the user's platform role.
	Role string `json:"role,omitempty"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"createdAt,omitempty"`

	// UpdatedAt is when the account was last modified.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// Profile holds non-sensitive free-form profile fields. Keys matching
	// the credential exclude-list fail serialization.
	Profile map[string]string `json:"profile,omitempty"`
}

// credentialMarkers is the exclude-list enforced at the serialization
// boundary. Matching is case-insensitive on key substrings so that variants
// like "PasswordHash" or "refresh_token" are caught too.
var credentialMarkers = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"credential",
	"private_key",
}

// isCredentialField reports whether a profile key is credential-marked.
func isCredentialField(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// encodeUser serializes a user for caching, enforcing the credential
// exclude-list and basic shape invariants.
func encodeUser(u *CachedUser) ([]byte, error) {
	if u == nil || u.ID <= 0 {
		return nil, fmt.Errorf("%w: missing or non-positive id", errCorruptPayload)
	}
	if u.Email == "" {
		return nil, fmt.Errorf("%w: missing email", errCorruptPayload)
	}
	for key := range u.Profile {
		if isCredentialField(key) {
			return nil, fmt.Errorf("%w: profile key %q", ErrCredentialField, key)
		}
	}
	return json.Marshal(u)
}

// decodeUser deserializes a cached payload. Anything that does not decode to
// a valid user is reported as corrupt; callers treat that as a miss and
// delete the entry so the bad value is not re-parsed on every read.
func decodeUser(data []byte) (*CachedUser, error) {
	var u CachedUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptPayload, err)
	}
	if u.ID <= 0 || u.Email == "" {
		return nil, fmt.Errorf("%w: missing required fields", errCorruptPayload)
	}
	for key := range u.Profile {
		if isCredentialField(key) {
			return nil, fmt.Errorf("%w: profile key %q", ErrCredentialField, key)
		}
	}
	return &u, nil
}
