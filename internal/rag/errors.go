package rag

import "errors"

// Sentinel errors classifying failures by the service boundary they crossed.
// Boundary failures are wrapped with the matching sentinel so callers can
// route on errors.Is without parsing messages.
var (
	// ErrEmbedder wraps embedding provider failures: unreachable service,
	// rejected input, or a vector of unexpected dimension.
	ErrEmbedder = errors.New("embedding provider error")

	// ErrVectorStore wraps vector store failures, including the fail-fast
	// dimension check at the store boundary.
	ErrVectorStore = errors.New("vector store error")

	// ErrGenerator wraps generation provider failures.
	ErrGenerator = errors.New("generation provider error")

	// ErrConsistency marks a synchronization that wrote the vector store but
	// failed to commit the document's vector reference. The stores disagree;
	// the condition is reported, never silently assumed away.
	ErrConsistency = errors.New("document and vector store out of sync")
)
