package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the durable backends, one row per index.
const (
	BucketCounter  = "counter"
	BucketEntities = "entities"
	BucketOwners   = "owners"
	BucketOwned    = "owned"
	BucketParents  = "parents"
	BucketChildren = "children"
	BucketSiblings = "siblings"
	BucketPartners = "partners"
)

// Buckets lists every bucket in persistence order.
var Buckets = []string{
	BucketCounter, BucketEntities, BucketOwners, BucketOwned,
	BucketParents, BucketChildren, BucketSiblings, BucketPartners,
}

func (s *Snapshot) bucketTarget(bucket string) (any, bool) {
	switch bucket {
	case BucketCounter:
		return &s.Counter, true
	case BucketEntities:
		return &s.Entities, true
	case BucketOwners:
		return &s.Owners, true
	case BucketOwned:
		return &s.Owned, true
	case BucketParents:
		return &s.Parents, true
	case BucketChildren:
		return &s.Children, true
	case BucketSiblings:
		return &s.Siblings, true
	case BucketPartners:
		return &s.Partners, true
	}
	return nil, false
}

// EncodeBuckets serializes each index of the snapshot to its own JSON payload.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		target, _ := snapshot.bucketTarget(bucket)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets are
// ignored so older rows do not prevent loading.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	for bucket, data := range payloads {
		target, ok := snapshot.bucketTarget(bucket)
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}
