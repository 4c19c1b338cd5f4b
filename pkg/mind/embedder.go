package mind

import "context"

// Embedder transforms text into a fixed-dimension unit vector. The
// embedding model itself is an external collaborator; the engine only
// requires this interface and treats the embedder as owned for the
// lifetime of the Mind. Calls are serialized by the engine lock.
type Embedder interface {
	// Embed converts text into a unit vector of the engine's dimension.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}
