// Package derivation computes creature attribute vectors. Every output is a
// pure function of the environment beacon, the acting account and a sequence
// number, so a recorded command stream replays to bit-identical state.
package derivation

import (
	"encoding/binary"

	"creaturecore/pkg/domain"

	"golang.org/x/crypto/blake2b"
)

// Engine derives attribute vectors from a randomness source.
type Engine struct {
	source domain.RandomnessSource
}

// NewEngine constructs an engine reading beacon values from source.
func NewEngine(source domain.RandomnessSource) *Engine {
	return &Engine{source: source}
}

// Source returns the randomness source backing the engine.
func (e *Engine) Source() domain.RandomnessSource { return e.source }

// Derive draws the next sequence number from the source and returns the seed
// vector for account together with the sequence number used.
func (e *Engine) Derive(account domain.AccountID) (domain.AttributeVector, uint32) {
	seq := e.source.Next()
	return e.SeedVector(account, seq), seq
}

// SeedVector hashes (beacon, account, sequence) into a 16-byte vector.
func (e *Engine) SeedVector(account domain.AccountID, sequence uint32) domain.AttributeVector {
	return SeedVector(e.source.Beacon(), account, sequence)
}

// SeedVector is the stateless form of Engine.SeedVector. The payload is
// beacon || account (u64 little endian) || sequence (u32 little endian),
// digested with BLAKE2b truncated to 128 bits.
func SeedVector(beacon []byte, account domain.AccountID, sequence uint32) domain.AttributeVector {
	payload := make([]byte, 0, len(beacon)+12)
	payload = append(payload, beacon...)
	payload = binary.LittleEndian.AppendUint64(payload, uint64(account))
	payload = binary.LittleEndian.AppendUint32(payload, sequence)

	// New only fails for out-of-range sizes or oversized keys.
	h, err := blake2b.New(domain.AttributeVectorSize, nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(payload)

	var out domain.AttributeVector
	copy(out[:], h.Sum(nil))
	return out
}

// Combine selects each output bit from a where the selector bit is set and
// from b otherwise.
func Combine(a, b, selector domain.AttributeVector) domain.AttributeVector {
	var out domain.AttributeVector
	for i := range out {
		out[i] = (selector[i] & a[i]) | (^selector[i] & b[i])
	}
	return out
}
