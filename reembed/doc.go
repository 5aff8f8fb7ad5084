// Package reembed rebuilds the stored embedding vectors of every email under a
// new embedding model.
//
// Vectors from different models are not comparable, so a model upgrade needs a
// full pass over the store before searches can use the new model. The pass walks
// records in ID order, embeds them in batches with retry and exponential backoff,
// publishes the vectors to an index serving the new model, and checkpoints after
// every batch so an interrupted run resumes where it stopped.
package reembed
