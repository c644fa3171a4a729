package queue

import "context"

// Store persists pending requests. Every call is atomic with respect to other
// calls on the same store, and implementations are safe for concurrent use.
type Store interface {
	// Insert assigns a fresh ID (ignoring any preset one), persists the record and returns the ID.
	Insert(ctx context.Context, req *PendingRequest) (int64, error)
	// List returns every stored record in ascending ID order.
	List(ctx context.Context) ([]*PendingRequest, error)
	// Delete removes the record with id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Closer is implemented by stores holding external connections.
type Closer interface {
	Close(ctx context.Context) error
}
