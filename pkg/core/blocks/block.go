// Package blocks defines the entropy block envelope stored in the pool.
package blocks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBlockSize is the standard conditioned block size (4 KiB).
	DefaultBlockSize = 4096
)

// Block is a fixed-size, validated entropy block. The payload is handed out
// to at most one Take call across the life of the pool; ids are 128-bit
// UUIDs, unique within a pool generation.
type Block struct {
	ID           string                 `json:"id"`
	Data         []byte                 `json:"data"` // base64 in JSON
	QualityScore float64                `json:"quality_score"`
	Shannon      float64                `json:"shannon_entropy"`
	Size         int                    `json:"size"`
	Timestamp    time.Time              `json:"timestamp"`
	SourceInfo   map[string]interface{} `json:"source_info,omitempty"`
}

// NewBlock creates a block envelope around a validated payload.
func NewBlock(data []byte, quality, shannon float64, sourceInfo map[string]interface{}) (*Block, error) {
	if len(data) == 0 {
		return nil, errors.New("block data cannot be empty")
	}
	if quality < 0 || quality > 1 {
		return nil, fmt.Errorf("quality score must be in [0, 1], got %f", quality)
	}

	return &Block{
		ID:           uuid.NewString(),
		Data:         data,
		QualityScore: quality,
		Shannon:      shannon,
		Size:         len(data),
		Timestamp:    time.Now().UTC(),
		SourceInfo:   sourceInfo,
	}, nil
}

// Encode serializes the envelope to JSON. Payload bytes are base64-encoded
// by the JSON codec.
func (b *Block) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// Decode parses a stored envelope and checks that the recorded size matches
// the payload.
func Decode(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode block envelope: %w", err)
	}
	if b.Size != len(b.Data) {
		return nil, fmt.Errorf("block %s size mismatch: envelope says %d, payload is %d", b.ID, b.Size, len(b.Data))
	}
	return &b, nil
}
