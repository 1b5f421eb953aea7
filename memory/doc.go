// Package memory defines the shared data model for the hierarchical
// conversational-memory engine.
//
// The engine keeps three tiers:
//   - STM: a bounded FIFO of recent turns with TTL
//   - MTM: a bounded FIFO of summarized chunks
//   - LTM: an unbounded hybrid store (vector records + property graph)
//
// This package holds the types that cross tier boundaries (Turn, Chunk),
// the error kinds shared by every component, and token estimation. Tier
// behaviour lives in the stm, mtm and ltm packages; coordination lives in
// the orchestrator package.
package memory
