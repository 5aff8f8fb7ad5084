// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai provides the resilient model adapter used by InsightMail.
//
// The package separates a raw inference endpoint (Backend) from the policy
// that makes it usable against a locally hosted model server (Adapter).
//
// # Interfaces
//
//   - Backend: one request per call against a named model, no retries
//   - Generator: text, structured and batch generation
//   - Embedder: text embeddings under a single named model
//   - ModelAdapter: Generator plus Embedder, implemented by *Adapter
//
// # Fallback Policy
//
// Generation walks an ordered table of ModelPolicy rows, primary first. Each
// model gets 1+MaxRetries attempts separated by bounded exponential backoff.
// Every attempt runs under Config.CallTimeout, and a per-call deadline counts as
// a retryable timeout. Only when every model is exhausted does a call fail,
// with ErrServiceUnavailable wrapping each CallError. Cancellation of the
// caller's context is returned immediately and is never retried.
//
// Embeddings use a single model. Vectors produced by different models are not
// comparable, so an embedding failure is retried but never falls back.
//
// # Structured Output
//
// GenerateStructured returns a StructuredResult, which is either Structured
// (decoded and validated against a Schema) or Degraded (tagged "unparseable").
// Malformed output gets one repair prompt containing the offending text before
// degrading. Callers switch on the concrete type:
//
//	res, err := adapter.GenerateStructured(ctx, prompt, schema)
//	if err != nil {
//	    return err // ErrServiceUnavailable or ctx.Err()
//	}
//	switch r := res.(type) {
//	case ai.Structured:
//	    use(r.Value)
//	case ai.Degraded:
//	    fallback(r.Raw)
//	}
//
// # Implementation Packages
//
//   - ai/openai: Backend using OpenAI-compatible APIs (Ollama, LocalAI, vLLM)
//   - ai/mock: programmable Backend for unit tests
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithGenerationModels("llama3.1:8b", "qwen2.5:3b"))
//	backend, err := openai.NewBackend(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	adapter, err := ai.NewAdapter(backend, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Close()
//
//	text, err := adapter.Generate(ctx, "Say hello", ai.GenerateOptions{})
package ai
