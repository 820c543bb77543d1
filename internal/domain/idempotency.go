package domain

import "time"

// IdempotencyRecord is the cached outcome of a request made with a given
// Idempotency-Key, keyed by (owner, key).
type IdempotencyRecord struct {
	Owner          string
	Key            string
	BodyHash       string
	ResponseBody   []byte
	ResponseStatus int
	CreatedAt      time.Time
}
