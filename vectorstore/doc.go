// Package vectorstore defines the vector index that backs retrieval.
//
// Each chunk of an ingested document is stored as one Point carrying its
// embedding and a payload (text, department, document id and name, ordinal,
// page, offset). Search is cosine similarity restricted to one department,
// compared case-insensitively. Backends live in the chromem (embedded) and
// qdrant (remote) subpackages; Lazy defers connecting until first use.
package vectorstore
