// Package index keeps the searchable embedding index for stored emails.
//
// Vectors are persisted through storage.VectorRepository and mirrored in
// memory for ranking. Category and account filters are resolved with roaring
// bitmaps before any similarity is computed, so a narrow filter never starves
// the top-k. A record is searchable only once both its EmailRecord and its
// vector exist.
package index
