package mock

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension is the length of vectors produced by the default Embed behavior.
const DefaultDimension = 384

// BagOfWords creates a deterministic embedding vector from text by hashing each
// lowercased word into a bucket. Texts sharing words have positive cosine
// similarity, which lets tests reason about ranking without a real model.
// The result is unit length; text without words yields a fixed unit vector.
func BagOfWords(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vector[h.Sum32()%uint32(dim)] += 1
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		vector[0] = 1
		return vector
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
