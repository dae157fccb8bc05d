// Package condition turns raw image noise into uniform fixed-size entropy
// blocks via multi-round cryptographic whitening.
//
// The conditioner is the only stage allowed to whiten: upstream extraction
// deliberately hands over raw, non-uniform bytes. Each output block is
// derived from one input chunk through three alternating hash rounds
// (BLAKE3 / SHA-256 / BLAKE3), a timestamp-and-nonce mix, and a 32-byte
// chain carried across blocks, then expanded to the configured block size
// with BLAKE3's extensible output.
package condition

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"lukechampine.com/blake3"
)

// ErrEmptyInput is returned when the conditioner receives zero-length noise.
var ErrEmptyInput = errors.New("conditioner: empty input")

const (
	// whitenRounds is the number of alternating hash rounds per chunk.
	whitenRounds = 3

	// minChunkSize bounds the amount of raw noise consumed per block from
	// below, so small block sizes still draw on enough input.
	minChunkSize = 1024

	digestSize = 32
)

// Conditioner derives fixed-size blocks from raw noise. It carries a 32-byte
// chaining value across calls; a single instance must not be used
// concurrently. Independent instances maintain independent chains.
type Conditioner struct {
	blockSize int
	chain     [digestSize]byte
	nonce     uint64
	now       func() time.Time
}

// New creates a conditioner producing blocks of the given size with an
// all-zero initial chaining value.
func New(blockSize int) *Conditioner {
	if blockSize <= 0 {
		blockSize = 4096
	}
	return &Conditioner{
		blockSize: blockSize,
		now:       time.Now,
	}
}

// BlockSize returns the configured output block size.
func (c *Conditioner) BlockSize() int {
	return c.blockSize
}

// Reset zeroes the chaining value and nonce counter, starting a fresh chain.
func (c *Conditioner) Reset() {
	c.chain = [digestSize]byte{}
	c.nonce = 0
}

// Condition transforms raw noise into whitened blocks of exactly blockSize
// bytes. Input shorter than one chunk yields a single block; otherwise the
// trailing partial chunk is discarded. Returns ErrEmptyInput for empty
// input.
func (c *Conditioner) Condition(raw []byte) ([][]byte, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}

	chunkSize := c.blockSize
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}

	numChunks := len(raw) / chunkSize
	if numChunks == 0 {
		// Short input: whiten the whole buffer and expand, no chain step.
		digest := multiRoundHash(raw, whitenRounds)
		return [][]byte{expand(digest[:], c.blockSize)}, nil
	}

	out := make([][]byte, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		chunk := raw[i*chunkSize : (i+1)*chunkSize]

		whitened := multiRoundHash(chunk, whitenRounds)
		stamped := c.mixTimestamp(whitened)
		chained := c.mixChain(stamped)
		out = append(out, expand(chained[:], c.blockSize))
	}
	return out, nil
}

// mixTimestamp binds the digest to the current microsecond and a monotonic
// nonce, so identical chunks diverge even within one clock tick.
func (c *Conditioner) mixTimestamp(digest [digestSize]byte) [digestSize]byte {
	var buf [digestSize + 16]byte
	copy(buf[:], digest[:])
	binary.BigEndian.PutUint64(buf[digestSize:], uint64(c.now().UnixMicro()))
	binary.BigEndian.PutUint64(buf[digestSize+8:], c.nonce)
	c.nonce++
	return blake3.Sum256(buf[:])
}

// mixChain prepends the previous chaining value and advances the chain.
func (c *Conditioner) mixChain(digest [digestSize]byte) [digestSize]byte {
	var buf [2 * digestSize]byte
	copy(buf[:], c.chain[:])
	copy(buf[digestSize:], digest[:])
	next := blake3.Sum256(buf[:])
	c.chain = next
	return next
}

// MixSources combines independent noise buffers from different frame sources
// into one 32-byte digest: each buffer is padded to the longest length via
// hash expansion, the buffers are XOR-folded, and the fold is hashed.
func MixSources(sources [][]byte) []byte {
	nonEmpty := sources[:0:0]
	for _, s := range sources {
		if len(s) > 0 {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	if len(nonEmpty) == 1 {
		sum := blake3.Sum256(nonEmpty[0])
		return sum[:]
	}

	maxLen := 0
	for _, s := range nonEmpty {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	folded := make([]byte, maxLen)
	copy(folded, expand(nonEmpty[0], maxLen))
	for _, s := range nonEmpty[1:] {
		padded := expand(s, maxLen)
		for i := range folded {
			folded[i] ^= padded[i]
		}
	}

	sum := blake3.Sum256(folded)
	return sum[:]
}

// multiRoundHash applies alternating hash rounds: BLAKE3 on even rounds,
// SHA-256 on odd ones, each consuming the previous round's output.
func multiRoundHash(data []byte, rounds int) [digestSize]byte {
	var digest [digestSize]byte
	current := data
	for i := 0; i < rounds; i++ {
		if i%2 == 0 {
			digest = blake3.Sum256(current)
		} else {
			digest = sha256.Sum256(current)
		}
		current = digest[:]
	}
	return digest
}

// expand stretches data to exactly targetSize bytes using BLAKE3's
// extensible output, or truncates when the input is already long enough.
func expand(data []byte, targetSize int) []byte {
	if len(data) >= targetSize {
		out := make([]byte, targetSize)
		copy(out, data[:targetSize])
		return out
	}
	h := blake3.New(targetSize, nil)
	h.Write(data)
	return h.Sum(nil)
}
