// Package accountid derives and wraps the stable, log-safe account key used
// throughout the sync core. No external account identifier ever appears in
// logs or on disk — only its hash does.
package accountid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Size is the length, in bytes, of a HashedAccountId digest (SHA-256).
const Size = sha256.Size

// HashedAccountId is a one-way hash of an external account identifier
// (e.g. a user's email or Graph account GUID). It is the only form of the
// account identity that is ever logged or persisted.
type HashedAccountId [Size]byte

// ErrInvalidLength is returned when parsing a hex string of the wrong length.
var ErrInvalidLength = errors.New("accountid: hex string must decode to 32 bytes")

// New computes the HashedAccountId for a plain external account identifier.
// The identifier is lower-cased before hashing so that case variations of
// the same account (as Graph API sometimes returns) map to the same id.
func New(externalAccountID string) HashedAccountId {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(externalAccountID))))
	return HashedAccountId(sum)
}

// Parse decodes a hex-encoded HashedAccountId, as stored in the StateStore
// or accepted at the control-surface boundary.
func Parse(hexID string) (HashedAccountId, error) {
	var id HashedAccountId

	b, err := hex.DecodeString(hexID)
	if err != nil {
		return id, err
	}

	if len(b) != Size {
		return id, ErrInvalidLength
	}

	copy(id[:], b)

	return id, nil
}

// String returns the lowercase hex encoding, the only form ever logged.
func (h HashedAccountId) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value (never a valid account).
func (h HashedAccountId) IsZero() bool {
	return h == HashedAccountId{}
}
