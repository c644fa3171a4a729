package capture

import "time"

// HeaderName marks a request as deferrable. Its value is the number of
// milliseconds from now during which the request may still be retried.
const HeaderName = "x-alioli-http-valid-until"

// Suggested validity values for HeaderName, in milliseconds. They are not enforced.
const (
	ValidFor1Day   int64 = 86_400_000
	ValidFor1Week        = ValidFor1Day * 7
	ValidFor2Weeks       = ValidFor1Day * 14
	ValidFor1Month       = ValidFor1Day * 30
)

// DefaultHeaderValue is the suggested header value: two weeks.
const DefaultHeaderValue = "1209600000"

const (
	// DefaultValidity applies when the header value is blank or not a number.
	DefaultValidity = time.Duration(ValidFor1Week) * time.Millisecond
	// DefaultBackoffDelay is the delay handed to the scheduler after a failed attempt.
	DefaultBackoffDelay = 15 * time.Minute
)
