// Package mock provides a test double implementation of ai.Backend.
//
// MockBackend lets tests run the real ai.Adapter without an inference server,
// injecting failures, latency or canned output per model.
//
// # Usage in Tests
//
//	backend := mock.NewMockBackend().
//	    WithGenerateFunc(func(ctx context.Context, model string, req ai.Request) (string, error) {
//	        if model == "primary" {
//	            <-ctx.Done()
//	            return "", ctx.Err()
//	        }
//	        return "ok", nil
//	    })
//	adapter := mock.NewAdapter(backend)
//
//	// Check call counts
//	count := backend.GenerateCallsFor("primary")
//
// # Default Behavior
//
//   - Generate returns DefaultResponse
//   - Embed returns BagOfWords vectors, so texts sharing words are similar
package mock
