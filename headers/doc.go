// Package headers provides the ordered header list stored with every pending
// request and the codec that persists it as a single string column.
//
// The encoded form is a JSON array of {"key","value"} objects. Order and
// duplicate keys survive a round trip, which a map based representation would
// not guarantee.
package headers
