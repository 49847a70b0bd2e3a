// Package sentinel holds the storage-level facts stores report. Services
// translate them into coded domain errors; handlers never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no child, dose status, event, certificate or claim for the key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed: a natural key (child dose set, certificate per type,
	// reward claim) is already taken.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the record is not in a status the update may move from.
	ErrInvalidState = errors.New("invalid state")
)
