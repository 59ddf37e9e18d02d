// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	embeddings, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	gen := mock.NewMockGenerator()
//	gen.GenerateFunc = func(ctx context.Context, prompt string, maxTokens int) (string, error) {
//	    return "", errors.New("model offline")
//	}
//
// # Default Behavior
//
// The mock implementations provide sensible defaults:
//   - MockEmbedder: Returns deterministic vectors based on text hash
//   - MockGenerator: Returns "mock answer" and records every prompt
//   - MockProvider: Aggregates mock embedder and generator
package mock
