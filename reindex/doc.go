// Package reindex rebuilds the vectors of already ingested documents, for
// example after switching embedding models or chunk sizes.
//
// Documents are re-extracted from their stored files, re-chunked and
// re-embedded in batches. Embedding calls are retried with exponential
// backoff and progress is reported to a writer.
package reindex
