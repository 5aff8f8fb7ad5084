// Package ingestion turns normalized upstream emails into stored, classified
// and searchable records.
//
// The Coordinator runs the per-email workflow:
//   - deduplicate by fingerprint, including fingerprints claimed by in-flight work
//   - persist the record in the pending state
//   - classify it and store the classification
//   - embed it and publish the vector to the index
//   - mark it processed
//
// A record that fails after it was persisted stays pending and is resumed the
// next time the same email is submitted. Batches fan out over a bounded ants
// worker pool; one record's failure never aborts the others.
package ingestion
