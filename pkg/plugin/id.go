// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PlayerID identifies a connected player. It is stable for the lifetime of a
// connection and encodes to JSON as its canonical 26 character string.
type PlayerID = ulid.ULID

// ErrMissingPlayerID reports a payload whose player_id is absent or zero.
var ErrMissingPlayerID = errors.New("player_id is missing")

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new, monotonically increasing ID.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// ParsePlayerID parses a player ID string.
func ParsePlayerID(s string) (PlayerID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return PlayerID{}, oops.Code(CodeInvalidPlayerID).
			With("player_id", s).
			Wrapf(err, "invalid player id %q", s)
	}
	return id, nil
}

// RequirePlayerID fails with ErrMissingPlayerID for the zero ID.
func RequirePlayerID(id PlayerID) error {
	if id == (PlayerID{}) {
		return ErrMissingPlayerID
	}
	return nil
}
