// Package admin serves the system endpoints used to inspect and drive the
// retry queue:
//
//	GET  /_sys/queue        queue depth and stored records (sensitive headers masked)
//	POST /_sys/queue/drain  start a drain pass now
//	GET  /_sys/job          retry job metadata
//
// Access is limited by CIDRMiddleware.
package admin
