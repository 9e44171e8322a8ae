package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotManager writes metrics reports as JSON files. It is the
// report sink when no Redis address is configured.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager creates a manager writing into dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

func reportName(r Report) string {
	return fmt.Sprintf("report_%d_%d.json", r.Seq, r.TsUnix)
}

func parseReportName(name string) (seq uint64, ts int64, ok bool) {
	if _, err := fmt.Sscanf(name, "report_%d_%d.json", &seq, &ts); err != nil {
		return 0, 0, false
	}
	return seq, ts, true
}

// SaveReport writes r to disk.
func (sm *SnapshotManager) SaveReport(_ context.Context, r Report) error {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(sm.dir, reportName(r))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	slog.Debug("Metrics report saved", slog.Uint64("seq", r.Seq), slog.String("path", path))
	return nil
}

// LoadLatest returns the most recent report, or nil if none exist.
// Reports are ordered by timestamp, then sequence, since the sequence
// restarts with the process.
func (sm *SnapshotManager) LoadLatest() (*Report, error) {
	files, err := sm.list()
	if err != nil || len(files) == 0 {
		return nil, err
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

// Cleanup removes old reports, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old report", slog.String("path", files[i].path))
		}
	}
	return nil
}

type reportFile struct {
	path string
	seq  uint64
	ts   int64
}

// list returns report files newest first.
func (sm *SnapshotManager) list() ([]reportFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report dir: %w", err)
	}

	var files []reportFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if seq, ts, ok := parseReportName(entry.Name()); ok {
			files = append(files, reportFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq, ts: ts})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ts != files[j].ts {
			return files[i].ts > files[j].ts
		}
		return files[i].seq > files[j].seq
	})
	return files, nil
}
