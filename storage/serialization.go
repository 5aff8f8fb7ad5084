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

package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/insightmail/core"
)

// HTML bodies are large and highly repetitive, so they are stored zstd-compressed.
// EncodeAll and DecodeAll are safe for concurrent use.
var (
	htmlEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	htmlDecoder, _ = zstd.NewReader(nil)
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalEmailRecord serializes an EmailRecord to bytes.
func MarshalEmailRecord(record *core.EmailRecord) []byte {
	html := compressHTML(record.BodyHTML)
	keys := sortedKeys(record.ExtractedFields)

	var s sizer
	s.u64(uint64(record.Id))
	s.str(record.SourceID)
	s.str(record.Account)
	s.str(record.Subject)
	s.str(record.Sender)
	s.str(record.Recipient)
	s.str(record.BodyText)
	s.str(html)
	s.time(record.ReceivedAt)
	s.i64(int64(record.Category))
	s.f64(record.Confidence)
	s.str(record.Summary)
	s.i64(int64(len(keys)))
	for _, k := range keys {
		s.str(k)
		s.str(record.ExtractedFields[k])
	}
	s.str(record.Fingerprint)
	s.i64(int64(record.State))
	s.i64(int64(record.ClassifiedBy))
	s.time(record.InsertedAt)
	s.time(record.UpdatedAt)

	w := writer{bs: make([]byte, s)}
	w.u64(uint64(record.Id))
	w.str(record.SourceID)
	w.str(record.Account)
	w.str(record.Subject)
	w.str(record.Sender)
	w.str(record.Recipient)
	w.str(record.BodyText)
	w.str(html)
	w.time(record.ReceivedAt)
	w.i64(int64(record.Category))
	w.f64(record.Confidence)
	w.str(record.Summary)
	w.i64(int64(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(record.ExtractedFields[k])
	}
	w.str(record.Fingerprint)
	w.i64(int64(record.State))
	w.i64(int64(record.ClassifiedBy))
	w.time(record.InsertedAt)
	w.time(record.UpdatedAt)
	return w.bs
}

// UnmarshalEmailRecord deserializes an EmailRecord from bytes.
func UnmarshalEmailRecord(data []byte) (*core.EmailRecord, error) {
	r := reader{bs: data}
	record := &core.EmailRecord{
		Id:        core.ID(r.u64()),
		SourceID:  r.str(),
		Account:   r.str(),
		Subject:   r.str(),
		Sender:    r.str(),
		Recipient: r.str(),
		BodyText:  r.str(),
	}
	html := r.str()
	record.ReceivedAt = r.time()
	record.Category = core.Category(r.i64())
	record.Confidence = r.f64()
	record.Summary = r.str()
	if n := r.i64(); n > 0 && r.err == nil {
		record.ExtractedFields = make(map[string]string, n)
		for i := int64(0); i < n && r.err == nil; i++ {
			k := r.str()
			record.ExtractedFields[k] = r.str()
		}
	}
	record.Fingerprint = r.str()
	record.State = core.ProcessingState(r.i64())
	record.ClassifiedBy = core.ClassificationMethod(r.i64())
	record.InsertedAt = r.time()
	record.UpdatedAt = r.time()
	if r.err != nil {
		return nil, fmt.Errorf("%w: email record: %w", ErrSerializationFailed, r.err)
	}

	body, err := decompressHTML(html)
	if err != nil {
		return nil, err
	}
	record.BodyHTML = body
	return record, nil
}

// MarshalEmbeddingVector serializes an EmbeddingVector to bytes.
func MarshalEmbeddingVector(vec *core.EmbeddingVector) []byte {
	var s sizer
	s.u64(uint64(vec.RecordID))
	s.str(vec.ModelName)
	s.time(vec.CreatedAt)
	s.i64(int64(len(vec.Vector)))
	for _, f := range vec.Vector {
		s.f32(f)
	}

	w := writer{bs: make([]byte, s)}
	w.u64(uint64(vec.RecordID))
	w.str(vec.ModelName)
	w.time(vec.CreatedAt)
	w.i64(int64(len(vec.Vector)))
	for _, f := range vec.Vector {
		w.f32(f)
	}
	return w.bs
}

// UnmarshalEmbeddingVector deserializes an EmbeddingVector from bytes.
func UnmarshalEmbeddingVector(data []byte) (*core.EmbeddingVector, error) {
	r := reader{bs: data}
	vec := &core.EmbeddingVector{
		RecordID:  core.ID(r.u64()),
		ModelName: r.str(),
		CreatedAt: r.time(),
	}
	n := r.i64()
	if r.err == nil && (n < 0 || n > int64(len(data))) {
		return nil, fmt.Errorf("%w: vector length %d", ErrTruncatedData, n)
	}
	if r.err == nil {
		vec.Vector = make([]float32, n)
		for i := range vec.Vector {
			vec.Vector[i] = r.f32()
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: embedding vector: %w", ErrSerializationFailed, r.err)
	}
	return vec, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	var s sizer
	s.str(checkpoint.ProcessorType)
	s.u64(uint64(checkpoint.LastID))
	s.time(checkpoint.UpdatedAt)

	w := writer{bs: make([]byte, s)}
	w.str(checkpoint.ProcessorType)
	w.u64(uint64(checkpoint.LastID))
	w.time(checkpoint.UpdatedAt)
	return w.bs
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	r := reader{bs: data}
	checkpoint := &core.Checkpoint{
		ProcessorType: r.str(),
		LastID:        core.ID(r.u64()),
		UpdatedAt:     r.time(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, r.err)
	}
	return checkpoint, nil
}

func compressHTML(html string) string {
	if html == "" {
		return ""
	}
	return string(htmlEncoder.EncodeAll([]byte(html), nil))
}

func decompressHTML(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	out, err := htmlDecoder.DecodeAll([]byte(data), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	return string(out), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Timestamps are stored as Unix microseconds; zero means unset.
func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

type sizer int

func (s *sizer) u64(v uint64)     { *s += sizer(varint.Uint64.Size(v)) }
func (s *sizer) i64(v int64)      { *s += sizer(varint.Int64.Size(v)) }
func (s *sizer) f32(v float32)    { *s += sizer(raw.Float32.Size(v)) }
func (s *sizer) f64(v float64)    { *s += sizer(raw.Float64.Size(v)) }
func (s *sizer) str(v string)     { *s += sizer(ord.String.Size(v)) }
func (s *sizer) time(v time.Time) { s.i64(timeToMicro(v)) }

type writer struct {
	bs []byte
	n  int
}

func (w *writer) u64(v uint64)     { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *writer) i64(v int64)      { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *writer) f32(v float32)    { w.n += raw.Float32.Marshal(v, w.bs[w.n:]) }
func (w *writer) f64(v float64)    { w.n += raw.Float64.Marshal(v, w.bs[w.n:]) }
func (w *writer) str(v string)     { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *writer) time(v time.Time) { w.i64(timeToMicro(v)) }

// reader decodes fields sequentially and keeps the first error.
// Once an error is recorded every further read returns the zero value.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) f32() float32 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) f64() float64 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	return microToTime(r.i64())
}
