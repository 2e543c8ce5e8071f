// Package archive stores registry snapshots in a blob store and restores them.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"creaturecore/internal/blob"
	"creaturecore/internal/infra/persistence/memory"
)

// DefaultPrefix is the key prefix snapshots are written under.
const DefaultPrefix = "snapshots/"

// ErrNoSnapshots is returned by Latest when the archive is empty.
var ErrNoSnapshots = errors.New("archive: no snapshots")

// Importer accepts a restored snapshot.
type Importer interface {
	ImportState(memory.Snapshot)
}

// Archive writes immutable snapshot objects keyed by counter and content digest.
type Archive struct {
	store  blob.Store
	prefix string
}

// New returns an archive over store using DefaultPrefix.
func New(store blob.Store) *Archive {
	return &Archive{store: store, prefix: DefaultPrefix}
}

// Key returns the object key for a snapshot payload. Counters are zero padded
// so lexical order matches counter order.
func (a *Archive) Key(counter uint32, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s%010d-%s.json", a.prefix, counter, hex.EncodeToString(sum[:6]))
}

// Save writes snapshot. Saving an identical state twice returns the existing object.
func (a *Archive) Save(ctx context.Context, snapshot memory.Snapshot) (blob.Info, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	key := a.Key(uint32(snapshot.Counter), payload)
	info, err := a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"counter": strconv.FormatUint(uint64(snapshot.Counter), 10)},
	})
	if errors.Is(err, blob.ErrExists) {
		return a.store.Head(ctx, key)
	}
	if err != nil {
		return blob.Info{}, fmt.Errorf("store snapshot: %w", err)
	}
	return info, nil
}

// List returns archived snapshots oldest first.
func (a *Archive) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			out = append(out, info)
		}
	}
	return out, nil
}

// Load reads and decodes the snapshot stored at key.
func (a *Archive) Load(ctx context.Context, key string) (memory.Snapshot, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var snapshot memory.Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snapshot, nil
}

// Latest returns the snapshot with the highest counter. Snapshots sharing a
// counter are ordered by write time.
func (a *Archive) Latest(ctx context.Context) (memory.Snapshot, blob.Info, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return memory.Snapshot{}, blob.Info{}, err
	}
	if len(infos) == 0 {
		return memory.Snapshot{}, blob.Info{}, ErrNoSnapshots
	}
	latest := infos[0]
	for _, info := range infos[1:] {
		if counterPart(info.Key) > counterPart(latest.Key) ||
			(counterPart(info.Key) == counterPart(latest.Key) && !info.LastModified.Before(latest.LastModified)) {
			latest = info
		}
	}
	snapshot, err := a.Load(ctx, latest.Key)
	return snapshot, latest, err
}

// Restore imports the latest snapshot into target.
func (a *Archive) Restore(ctx context.Context, target Importer) (blob.Info, error) {
	snapshot, info, err := a.Latest(ctx)
	if err != nil {
		return blob.Info{}, err
	}
	target.ImportState(snapshot)
	return info, nil
}

func counterPart(key string) string {
	base := key[strings.LastIndex(key, "/")+1:]
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[:i]
	}
	return base
}
