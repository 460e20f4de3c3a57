package artifact

import "context"

// Store holds raw uploads and processed outputs, addressed by opaque path
// refs. Implementations must tolerate concurrent Put for unrelated refs and
// idempotent overwrite of the same ref; no cross-job coordination happens
// here.
type Store interface {
	// Put stores data under ref, overwriting any previous object.
	Put(ctx context.Context, ref string, data []byte, contentType string) error

	// Get returns the bytes stored under ref, or domain.ErrNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the object under ref. Deleting a missing ref is not
	// an error.
	Delete(ctx context.Context, ref string) error
}
