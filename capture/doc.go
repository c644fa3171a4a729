// Package capture decides which outgoing requests are deferrable and persists
// them before their first attempt.
//
// A request is deferrable when it carries HeaderName. The Gate stores it in a
// queue.Store, strips the control header, runs the attempt and then either
// deletes the stored copy (2xx) or asks the scheduler for a retry pass. The
// caller always receives the attempt's own response or error.
//
// Gate.Intercept has the transport.Interceptor shape, so it can be installed
// as the last interceptor of a transport.Client. Transport adapts the same
// logic to any net/http client.
package capture
