package derivation

import (
	"encoding/binary"
	"sync"

	"creaturecore/pkg/domain"

	"golang.org/x/crypto/blake2b"
)

var _ domain.RandomnessSource = (*SequencedBeacon)(nil)

// SequencedBeacon is a deterministic randomness source. Unit of work n has
// beacon BLAKE2b-256(seed || n); the sequence number restarts at zero for each
// unit of work and increments on every Next call.
type SequencedBeacon struct {
	mu     sync.Mutex
	seed   []byte
	unit   uint64
	beacon []byte
	seq    uint32
}

// NewSequencedBeacon starts at unit of work zero.
func NewSequencedBeacon(seed []byte) *SequencedBeacon {
	b := &SequencedBeacon{seed: append([]byte(nil), seed...)}
	b.beacon = unitBeacon(b.seed, 0)
	return b
}

// Beacon returns a copy of the current unit's beacon value.
func (b *SequencedBeacon) Beacon() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.beacon...)
}

// Next returns the current sequence number and advances it.
func (b *SequencedBeacon) Next() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.seq
	b.seq++
	return seq
}

// Advance moves to the next unit of work and returns its index.
func (b *SequencedBeacon) Advance() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unit++
	b.seq = 0
	b.beacon = unitBeacon(b.seed, b.unit)
	return b.unit
}

// Unit returns the index of the current unit of work.
func (b *SequencedBeacon) Unit() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unit
}

func unitBeacon(seed []byte, unit uint64) []byte {
	payload := binary.LittleEndian.AppendUint64(append([]byte(nil), seed...), unit)
	sum := blake2b.Sum256(payload)
	return sum[:]
}

// FixedSource replays a recorded beacon and sequence stream. It is the
// replay counterpart of SequencedBeacon.
type FixedSource struct {
	mu        sync.Mutex
	BeaconVal []byte
	Sequences []uint32
	pos       int
}

// Beacon returns the recorded beacon.
func (f *FixedSource) Beacon() []byte {
	return append([]byte(nil), f.BeaconVal...)
}

// Next returns the next recorded sequence, continuing upward past the end of
// the recording.
func (f *FixedSource) Next() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var seq uint32
	switch {
	case f.pos < len(f.Sequences):
		seq = f.Sequences[f.pos]
	case len(f.Sequences) > 0:
		seq = f.Sequences[len(f.Sequences)-1] + uint32(f.pos-len(f.Sequences)+1)
	default:
		seq = uint32(f.pos)
	}
	f.pos++
	return seq
}
