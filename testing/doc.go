// Package testing holds test support for alioli.
//
// The mocks subpackage provides testify mocks and scripted fakes for the
// queue store, the HTTP executor and the retry scheduler. The containers
// subpackage starts PostgreSQL, Oracle, Redis, MongoDB and RabbitMQ with
// testcontainers for tests built with the integration tag.
package testing
