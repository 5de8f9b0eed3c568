package ratelimit

import "sync/atomic"

// Quota is a set-once cancellation token raised when a provider reports its
// quota is spent. Holders check it before starting new work; work already
// in flight is left to finish.
type Quota struct {
	exceeded atomic.Bool
}

// NewQuota returns an unraised token.
func NewQuota() *Quota {
	return &Quota{}
}

// Trip raises the token. Later calls are no-ops.
func (q *Quota) Trip() {
	if q == nil {
		return
	}
	q.exceeded.Store(true)
}

// Exceeded reports whether the token has been raised.
func (q *Quota) Exceeded() bool {
	return q != nil && q.exceeded.Load()
}
