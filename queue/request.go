package queue

import (
	"time"

	"github.com/gaborage/alioli/headers"
)

// Body is the captured request payload. ContentType may be empty.
type Body struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// PendingRequest is a stored request awaiting delivery.
// Records are immutable once stored; ID is assigned by the store.
type PendingRequest struct {
	ID         int64            `json:"id"`
	Method     string           `json:"method" validate:"required"`
	URL        string           `json:"url" validate:"required,url"`
	Body       *Body            `json:"body,omitempty"`
	Headers    []headers.Header `json:"headers"`
	ValidUntil int64            `json:"valid_until"`
}

// ExpiredAt reports whether the request is past its validity at now.
// A request whose ValidUntil equals now is already expired.
func (r *PendingRequest) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() >= r.ValidUntil
}

// Clone returns a deep copy so callers never share slices with a store.
func (r *PendingRequest) Clone() *PendingRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Body != nil {
		b := *r.Body
		c.Body = &b
	}
	if r.Headers != nil {
		c.Headers = append([]headers.Header(nil), r.Headers...)
	}
	return &c
}
