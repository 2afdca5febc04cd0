package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/oldsharp/udtschema/pkg/types"
	"github.com/spaolacci/murmur3"
)

// SnapshotPrefix is the object prefix under which snapshots are written.
const SnapshotPrefix = "snapshots/"

const snapshotSuffix = ".json.sz"

const (
	snapshotMagic         = "UDTS"
	snapshotFormatVersion = 1
	snapshotHeaderSize    = 16
)

// Snapshot is a point-in-time copy of one keyspace's schema. Type ids are
// kept, so values encoded before the snapshot decode against a restored
// catalog.
type Snapshot struct {
	Keyspace          string                  `json:"keyspace"`
	ReplicationFactor int                     `json:"replication_factor"`
	Version           uint64                  `json:"version"`
	Types             []*types.TypeDefinition `json:"types"`
	Tables            []*types.TableDef       `json:"tables"`
	CreatedAt         time.Time               `json:"created_at"`
}

// Snapshot captures the current schema of a keyspace.
func (c *Catalog) Snapshot(keyspace string) (*Snapshot, error) {
	ks, err := c.rlockKeyspace(keyspace)
	if err != nil {
		return nil, err
	}
	defer ks.mu.RUnlock()

	snap := &Snapshot{
		Keyspace:          ks.name,
		ReplicationFactor: ks.replication,
		Version:           ks.version,
		CreatedAt:         time.Now().UTC(),
	}
	for _, def := range ks.types {
		snap.Types = append(snap.Types, def.Clone())
	}
	sort.Slice(snap.Types, func(i, j int) bool { return snap.Types[i].ID < snap.Types[j].ID })
	for _, t := range ks.tables {
		snap.Tables = append(snap.Tables, t.Clone())
	}
	sort.Slice(snap.Tables, func(i, j int) bool { return snap.Tables[i].Name < snap.Tables[j].Name })
	return snap, nil
}

// EncodeSnapshot serializes a snapshot. The format is:
//   - 4 bytes: magic "UDTS"
//   - 4 bytes: format version (uint32, little-endian)
//   - 8 bytes: murmur3 checksum of the JSON body (uint64, little-endian)
//   - remaining: snappy-compressed JSON body
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to marshal: %w", err)
	}

	compressed := snappy.Encode(nil, body)
	buf := make([]byte, snapshotHeaderSize+len(compressed))
	copy(buf[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:8], snapshotFormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], murmur3.Sum64(body))
	copy(buf[snapshotHeaderSize:], compressed)
	return buf, nil
}

// DecodeSnapshot parses and verifies a serialized snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < snapshotHeaderSize {
		return nil, errors.NewMalformedValueError("snapshot: data too short")
	}
	if string(data[0:4]) != snapshotMagic {
		return nil, errors.NewMalformedValueError("snapshot: bad magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != snapshotFormatVersion {
		return nil, errors.NewMalformedValueError(fmt.Sprintf("snapshot: unsupported format version %d", v))
	}

	body, err := snappy.Decode(nil, data[snapshotHeaderSize:])
	if err != nil {
		return nil, errors.NewMalformedValueError("snapshot: corrupt body: " + err.Error())
	}
	if sum := murmur3.Sum64(body); sum != binary.LittleEndian.Uint64(data[8:16]) {
		return nil, errors.NewMalformedValueError("snapshot: checksum mismatch")
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, errors.NewMalformedValueError("snapshot: invalid body: " + err.Error())
	}
	return &snap, nil
}

// SnapshotPath returns the object path of a keyspace snapshot at a version.
// Versions are zero-padded so paths sort in version order.
func SnapshotPath(keyspace string, version uint64) string {
	return fmt.Sprintf("%s%s/v%020d%s", SnapshotPrefix, keyspace, version, snapshotSuffix)
}

// parseSnapshotPath is the inverse of SnapshotPath.
func parseSnapshotPath(p string) (keyspace string, version uint64, ok bool) {
	dir, file := path.Split(strings.TrimPrefix(p, SnapshotPrefix))
	keyspace = strings.TrimSuffix(dir, "/")
	if keyspace == "" || strings.Contains(keyspace, "/") ||
		!strings.HasPrefix(file, "v") || !strings.HasSuffix(file, snapshotSuffix) {
		return "", 0, false
	}
	version, err := strconv.ParseUint(strings.TrimSuffix(file[1:], snapshotSuffix), 10, 64)
	if err != nil {
		return "", 0, false
	}
	return keyspace, version, true
}

// ExportSnapshot writes the current schema of a keyspace to object storage
// and returns the object path.
func (c *Catalog) ExportSnapshot(ctx context.Context, objects storage.ObjectStorage, keyspace string) (string, error) {
	snap, err := c.Snapshot(keyspace)
	if err != nil {
		return "", err
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	objectPath := SnapshotPath(keyspace, snap.Version)
	if err := objects.Put(ctx, objectPath, data); err != nil {
		return "", errors.NewStorageError(errors.CodeWriteFailed, "snapshot: failed to upload "+objectPath, err)
	}

	log.Printf("catalog: exported snapshot of %s (version %d, %d types, %d tables) to %s",
		keyspace, snap.Version, len(snap.Types), len(snap.Tables), objectPath)
	return objectPath, nil
}

// LoadSnapshot reads and verifies a snapshot object.
func LoadSnapshot(ctx context.Context, objects storage.ObjectStorage, objectPath string) (*Snapshot, error) {
	data, err := objects.Get(ctx, objectPath)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotFound) {
			return nil, errors.NewStorageError(errors.CodeObjectNotFound, "snapshot: "+objectPath+" not found", err)
		}
		return nil, errors.NewStorageError(errors.CodeReadFailed, "snapshot: failed to download "+objectPath, err)
	}
	return DecodeSnapshot(data)
}

// SnapshotInfo describes one stored snapshot object.
type SnapshotInfo struct {
	Keyspace string
	Version  uint64
	Path     string
	Size     int64
	ModTime  time.Time
}

// ListSnapshots returns the stored snapshots ordered by keyspace, then by
// version. Objects under the prefix that are not snapshots are ignored.
func ListSnapshots(ctx context.Context, objects storage.ObjectStorage) ([]SnapshotInfo, error) {
	listed, err := objects.List(ctx, SnapshotPrefix)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "snapshot: failed to list snapshots", err)
	}
	var out []SnapshotInfo
	for _, obj := range listed {
		ks, version, ok := parseSnapshotPath(obj.Path)
		if !ok {
			continue
		}
		out = append(out, SnapshotInfo{Keyspace: ks, Version: version, Path: obj.Path, Size: obj.Size, ModTime: obj.ModTime})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Keyspace != out[j].Keyspace {
			return out[i].Keyspace < out[j].Keyspace
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// LatestSnapshotPaths returns the newest snapshot path per keyspace.
func LatestSnapshotPaths(ctx context.Context, objects storage.ObjectStorage) (map[string]string, error) {
	infos, err := ListSnapshots(ctx, objects)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]string)
	for _, info := range infos {
		latest[info.Keyspace] = info.Path
	}
	return latest, nil
}

// PruneSnapshots deletes all but the newest keep snapshots of every keyspace
// and returns the deleted paths. keep below one is treated as one.
func PruneSnapshots(ctx context.Context, objects storage.ObjectStorage, keep int) ([]string, error) {
	infos, err := ListSnapshots(ctx, objects)
	if err != nil {
		return nil, err
	}
	keep = max(keep, 1)

	byKeyspace := make(map[string][]SnapshotInfo)
	for _, info := range infos {
		byKeyspace[info.Keyspace] = append(byKeyspace[info.Keyspace], info)
	}
	var deleted []string
	for _, info := range infos {
		versions := byKeyspace[info.Keyspace]
		if len(versions) <= keep || info.Version >= versions[len(versions)-keep].Version {
			continue
		}
		if err := objects.Delete(ctx, info.Path); err != nil {
			return deleted, errors.NewStorageError(errors.CodeWriteFailed, "snapshot: failed to delete "+info.Path, err)
		}
		deleted = append(deleted, info.Path)
	}
	if len(deleted) > 0 {
		log.Printf("catalog: pruned %d snapshots (keeping %d per keyspace)", len(deleted), keep)
	}
	return deleted, nil
}

// LoadLatestSnapshots fetches the newest snapshot of every keyspace in
// parallel. Unreadable snapshots are logged and skipped.
func LoadLatestSnapshots(ctx context.Context, objects storage.ObjectStorage, concurrency int) ([]*Snapshot, error) {
	latest, err := LatestSnapshotPaths(ctx, objects)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(latest))
	for _, p := range latest {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	result, err := storage.FetchAll(ctx, objects, paths, concurrency)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "snapshot: batch fetch failed", err)
	}

	var out []*Snapshot
	for _, p := range paths {
		if ferr, failed := result.Errors[p]; failed {
			log.Printf("catalog: skipping snapshot %s: %v", p, ferr)
			continue
		}
		snap, err := DecodeSnapshot(result.Objects[p])
		if err != nil {
			log.Printf("catalog: skipping snapshot %s: %v", p, err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// RestoreSnapshot recreates a keyspace from a snapshot under the name
// keyspace (the snapshot's own name when empty). The keyspace must not exist
// and the snapshot's type ids must be free. The id allocator is advanced past
// every restored id.
func (c *Catalog) RestoreSnapshot(ctx context.Context, snap *Snapshot, keyspace string) error {
	if keyspace == "" {
		keyspace = snap.Keyspace
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.keyspaces[keyspace]; exists {
		return errors.NewDuplicateNameError("keyspace", keyspace)
	}

	now := time.Now()
	ks := newKeyspace(keyspace, snap.ReplicationFactor, now)
	ks.version = snap.Version + 1

	var maxID types.TypeID
	c.idxMu.RLock()
	for _, def := range snap.Types {
		if _, used := c.byID[def.ID]; used || def.ID == 0 {
			c.idxMu.RUnlock()
			return errors.NewInvalidSchemaError(fmt.Sprintf("snapshot: type id %s of %s is already in use", def.ID, def.Name))
		}
		if _, dup := ks.names[def.Name]; dup {
			c.idxMu.RUnlock()
			return errors.NewDuplicateNameError("type", def.Name)
		}
		cp := def.Clone()
		cp.Keyspace = keyspace
		ks.types[cp.ID] = cp
		ks.names[cp.Name] = cp.ID
		if cp.ID > maxID {
			maxID = cp.ID
		}
	}
	c.idxMu.RUnlock()

	for _, t := range snap.Tables {
		cp := t.Clone()
		cp.Keyspace = keyspace
		ks.tables[cp.Name] = cp
	}
	ks.graph.Rebuild(ks.typeList(), ks.tableList())

	// Every reference must resolve inside the snapshot and no type may reach
	// itself.
	for _, def := range ks.types {
		for _, f := range def.Fields {
			if err := f.Type.Validate(); err != nil {
				return errors.NewInvalidSchemaError(err.Error())
			}
			for _, ref := range f.Type.ReferencedTypes() {
				target, ok := ks.types[ref]
				if !ok {
					return errors.NewUnknownTypeError(fmt.Sprintf("%s.<id %s>", keyspace, ref))
				}
				if ks.graph.Reaches(ref, def.ID) {
					return errors.NewCyclicReferenceError(def.Name, target.Name)
				}
			}
		}
	}
	for _, t := range ks.tables {
		if err := ks.validateTable(t); err != nil {
			return err
		}
	}

	m := &Mutation{
		Change: SchemaChange{
			Keyspace: keyspace,
			Kind:     ChangeRestore,
			Target:   keyspace,
			Detail: map[string]interface{}{
				"source":  snap.Keyspace,
				"version": snap.Version,
				"types":   len(snap.Types),
				"tables":  len(snap.Tables),
			},
		},
		PutKeyspace: &KeyspaceRecord{
			Name:              keyspace,
			ReplicationFactor: ks.replication,
			Version:           ks.version,
			CreatedAt:         now,
		},
		Version:   ks.version,
		PutTypes:  ks.typeList(),
		PutTables: ks.tableList(),
	}
	if maxID > 0 {
		m.NextTypeID = maxID + 1
	}
	if err := c.commit(ctx, m); err != nil {
		return err
	}

	c.keyspaces[keyspace] = ks
	c.idxMu.Lock()
	for id := range ks.types {
		c.byID[id] = keyspace
	}
	if maxID >= c.nextID {
		c.nextID = maxID + 1
	}
	c.idxMu.Unlock()
	return nil
}
