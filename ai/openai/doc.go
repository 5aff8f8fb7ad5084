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

// Package openai provides an ai.Backend using OpenAI-compatible APIs.
//
// This package uses the langchaingo library to communicate with OpenAI or
// OpenAI-compatible services such as Ollama, LocalAI, or vLLM. It performs a
// single request per call; retries, timeouts and model fallback belong to
// ai.Adapter.
//
// # Usage
//
//	config := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"), // /v1 added automatically
//	    ai.WithGenerationModels("llama3.1:8b", "qwen2.5:3b"),
//	)
//
//	backend, err := openai.NewBackend(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	adapter, err := ai.NewAdapter(backend, config)
package openai
