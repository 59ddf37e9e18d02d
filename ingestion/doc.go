// Package ingestion runs uploaded documents through extraction, chunking,
// embedding and vector storage.
//
// The Coordinator accepts an upload, stores the file, persists a pending
// DocumentRecord and schedules the document's run on a worker pool, returning
// without waiting. The run moves the record to processing, executes each
// stage under a StageEvent bracket, and finishes it as completed or failed.
// A run interrupted by shutdown leaves its record in processing so Reconcile
// can resume it.
package ingestion
