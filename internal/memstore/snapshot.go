package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// snapshotFile is the on-disk JSON layout. Records are sorted by node id so
// snapshots diff cleanly.
type snapshotFile struct {
	Version int      `json:"version"`
	Records []record `json:"records"`
}

const snapshotVersion = 1

// Save writes the whole graph to the snapshot path via a temp file and
// rename. This backend buffers in memory, so Save is the only durability
// point; a missing path makes it a no-op.
func (s *Store) Save(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	snap := snapshotFile{Version: snapshotVersion, Records: make([]record, 0, len(s.nodes))}
	for _, rec := range s.nodes {
		snap.Records = append(snap.Records, *rec)
	}
	s.mu.RUnlock()
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].Node.ID < snap.Records[j].Node.ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

func (s *Store) loadSnapshot() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", s.path, err)
	}
	for i := range snap.Records {
		rec := snap.Records[i]
		s.nodes[rec.Node.ID] = &rec
		if rec.Node.SystemID != nil && !rec.Node.Deleted() {
			s.system[*rec.Node.SystemID] = rec.Node.ID
		}
	}
	return nil
}
