package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/insightmail/core"
)

// Key prefixes for different data types
const (
	emailRecordPrefix      = "email"
	emailDatePrefix        = "emaild"
	emailFingerprintPrefix = "emailf"
	emailCategoryPrefix    = "emailc"
	vectorPrefix           = "emvec"
)

// All binary key components are BigEndian so lexicographic order matches numeric order.

// makeEmailKey generates a key for an email record by ID.
// Format: prefix:id
func makeEmailKey(id core.ID) []byte {
	return appendUint64([]byte(emailRecordPrefix+":"), uint64(id))
}

// emailKeyPrefix is the iteration prefix covering every email record key.
func emailKeyPrefix() []byte {
	return []byte(emailRecordPrefix + ":")
}

// makeEmailDateKey generates a composite key for the date index.
// Format: prefix:timestamp:id
func makeEmailDateKey(timestamp time.Time, id core.ID) []byte {
	buf := makePartialEmailDateKey(timestamp)
	return appendUint64(buf, uint64(id))
}

// makePartialEmailDateKey generates a partial key for date range queries.
// Format: prefix:timestamp
func makePartialEmailDateKey(timestamp time.Time) []byte {
	return appendUint64([]byte(emailDatePrefix+":"), uint64(timestamp.UnixMicro()))
}

// makeFingerprintKey generates the unique fingerprint index key.
// Format: prefix:fingerprint
func makeFingerprintKey(fingerprint string) []byte {
	return []byte(fmt.Sprintf("%s:%s", emailFingerprintPrefix, fingerprint))
}

// makeEmailCategoryKey generates a composite key for the category index.
// Format: prefix:category:id
func makeEmailCategoryKey(category core.Category, id core.ID) []byte {
	return appendUint64(makePartialEmailCategoryKey(category), uint64(id))
}

// makePartialEmailCategoryKey generates a partial key for category queries.
// Format: prefix:category
func makePartialEmailCategoryKey(category core.Category) []byte {
	return appendUint64([]byte(emailCategoryPrefix+":"), uint64(category))
}

// makeVectorKey generates a key for an embedding vector.
// Format: prefix:id:model
func makeVectorKey(id core.ID, model string) []byte {
	buf := makeVectorRecordPrefix(id)
	return append(buf, model...)
}

// makeVectorRecordPrefix covers every vector stored for a record.
// Format: prefix:id:
func makeVectorRecordPrefix(id core.ID) []byte {
	buf := appendUint64([]byte(vectorPrefix+":"), uint64(id))
	return append(buf, ':')
}

// vectorKeyPrefix is the iteration prefix covering every vector key.
func vectorKeyPrefix() []byte {
	return []byte(vectorPrefix + ":")
}

// modelFromVectorKey extracts the model name from a vector key.
func modelFromVectorKey(key []byte) string {
	return string(key[len(vectorPrefix)+1+8+1:])
}

// makeCheckpointKey generates a key for processor checkpoints.
func makeCheckpointKey(processorType string) []byte {
	return []byte(fmt.Sprintf("%s:chkpt", processorType))
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}
