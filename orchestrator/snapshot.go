package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/memory"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the persisted engine state. Long-term storage persists
// through its own backends and is referenced only by configuration.
type Snapshot struct {
	Version      int            `json:"version"`
	STM          []memory.Turn  `json:"stm"`
	MTM          []memory.Chunk `json:"mtm"`
	Counters     Counters       `json:"counters"`
	EmbeddingDim int            `json:"embedding_dim"`
}

// Counters carries the promotion bookkeeping.
type Counters struct {
	TurnsSinceLastSummary int `json:"turns_since_last_summary"`
}

// Snapshot captures the current short-term and mid-term state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.addMu.Lock()
	pending := o.turnsSinceSummary
	o.addMu.Unlock()

	return Snapshot{
		Version:      SnapshotVersion,
		STM:          o.stm.Turns(),
		MTM:          o.mtm.Chunks(),
		Counters:     Counters{TurnsSinceLastSummary: pending},
		EmbeddingDim: o.cfg.EmbeddingDim,
	}
}

// SaveSnapshot writes the engine state as JSON to path.
func (o *Orchestrator) SaveSnapshot(path string) error {
	data, err := json.MarshalIndent(o.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores state from path. Any failure (missing file, bad
// JSON, wrong version, mismatched embedding dimension) leaves the engine
// in a fresh empty state and returns false; the engine stays usable
// either way.
func (o *Orchestrator) LoadSnapshot(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		o.log.Warn("snapshot read failed, starting fresh", zap.String("path", path), zap.Error(err))
		o.ClearAll()
		return false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		o.log.Warn("snapshot decode failed, starting fresh", zap.String("path", path), zap.Error(err))
		o.ClearAll()
		return false
	}
	if snap.Version != SnapshotVersion {
		o.log.Warn("snapshot version mismatch, starting fresh",
			zap.Int("got", snap.Version), zap.Int("want", SnapshotVersion))
		o.ClearAll()
		return false
	}
	if snap.EmbeddingDim != o.cfg.EmbeddingDim {
		o.log.Warn("snapshot embedding dimension mismatch, starting fresh",
			zap.Int("got", snap.EmbeddingDim), zap.Int("want", o.cfg.EmbeddingDim))
		o.ClearAll()
		return false
	}

	o.addMu.Lock()
	defer o.addMu.Unlock()
	o.stm.Restore(snap.STM)
	o.mtm.Restore(snap.MTM)
	o.turnsSinceSummary = snap.Counters.TurnsSinceLastSummary
	return true
}
