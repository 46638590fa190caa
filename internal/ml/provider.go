// Package ml provides sentence embedding for records.
package ml

import "context"

// Provider turns texts into dense vectors. Implementations must be safe for
// concurrent use and deterministic for a fixed model.
type Provider interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider and model, e.g. "ollama/nomic-embed-text".
	Name() string
}
