// Package classify turns email text into structured job-search judgments.
//
// Classify never fails: when the model is unavailable or keeps producing
// unparseable output, a weighted keyword heuristic assigns the category.
// SummarizeInbox condenses arbitrarily many records with a map-reduce pass
// under a fixed context budget. The follow-up, suggestion and progress
// helpers are pure functions over records.
package classify
