// Package transport executes outbound HTTP requests for alioli.
//
// Requests carry ordered, possibly repeated headers so they can be stored and
// replayed verbatim. A non-2xx status is a normal Response, not an error:
// errors are reserved for requests that never produced a response (network
// failures, timeouts, invalid input).
//
// Interceptors wrap execution the way application interceptors wrap an HTTP
// call chain. The capture gate is installed as the last interceptor so it sees
// the request exactly as it will be sent.
package transport
