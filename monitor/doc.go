// Package monitor records the stage-by-stage execution of ingestion and
// query runs.
//
// Every run gets an id of the form "<subject>-<32 hex>" and an append-only
// event log. Stages emit start, end and error events; the run is closed by a
// single "Overall Processing" end or error event, after which further events
// are dropped. Recording never fails the caller: storage errors are logged and
// counted, never returned.
//
// AggregateStats summarizes runs over a time window. A run without a
// terminal event counts as errored.
package monitor
