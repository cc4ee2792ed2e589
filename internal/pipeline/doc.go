// Package pipeline runs the trigger-event pipeline: fetch each configured
// source, extract articles, classify them against the trigger taxonomy,
// resolve the company, and persist new events through a deduplicating Store.
//
// Sources are processed strictly in order with a pacing delay between them.
// Failures are per-source or per-record and never abort a run; every outcome
// is recorded on the returned Report.
package pipeline
