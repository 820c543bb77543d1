package store

import "errors"

// ErrTransient marks a store error the caller should retry once with a
// small backoff (spec §4.1, §7). NotFound/Conflict are represented with
// internal/apperr's typed errors directly since the core already recovers
// those via errors.As at every layer.
var ErrTransient = errors.New("store: transient error")
