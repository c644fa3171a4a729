// Package queue defines the durable store of deferred HTTP requests.
//
// A PendingRequest lives in the store from the moment the capture gate decides
// a request is deferrable until it is delivered or expires. Backends live in
// the sub-packages memory, sqlstore, redis and mongodb; all of them satisfy
// Store and are exercised by the shared suite in queuetest.
package queue
