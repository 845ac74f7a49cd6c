package bulkio

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Policy is the placement strategy a Selector applies when picking a
// shard for the next Add call.
type Policy int

const (
	// PolicyFill targets the fullest shard that still fits under the
	// ceiling, packing shards one at a time instead of spreading writes.
	PolicyFill Policy = iota
	// PolicySpread targets the least full shard that still fits, to
	// distribute writes evenly instead of packing.
	PolicySpread
)

// Selector picks a target BulkStorage out of a fixed set of shards
// according to a Policy, honoring a per-shard size ceiling. It has no
// on-disk footprint of its own — it is a placement policy layered over
// several otherwise-independent containers.
type Selector struct {
	shards     []*BulkStorage
	maxBytes   int64
	policy     Policy
	nextSpread int
}

// NewSelector builds a selector over shards, each capped at maxSizeGB
// gigabytes of file size before it is considered full.
func NewSelector(shards []*BulkStorage, maxSizeGB float64, policy Policy) *Selector {
	return &Selector{
		shards:   shards,
		maxBytes: int64(maxSizeGB * float64(humanize.GByte)),
		policy:   policy,
	}
}

// shardStat is a snapshot of one shard's fullness, used to rank candidates.
type shardStat struct {
	idx   int
	shard *BulkStorage
	size  int64
	files int
}

// Select returns the shard the next Add call should target: fill prefers
// the fullest shard that still fits under maxBytes, spread prefers the
// least full one, and both break ties by file count in the same direction
// (fill toward more files, spread toward fewer).
func (s *Selector) Select() (*BulkStorage, error) {
	if len(s.shards) == 0 {
		return nil, fmt.Errorf("%w: no shards configured", ErrIOFailure)
	}
	candidates, err := s.fitting()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: all shards at or above %s", ErrIOFailure, humanize.Bytes(uint64(s.maxBytes)))
	}
	switch s.policy {
	case PolicyFill:
		return s.selectFill(candidates), nil
	case PolicySpread:
		return s.selectSpread(candidates), nil
	default:
		return nil, fmt.Errorf("%w: unknown selection policy %d", ErrNotImplemented, s.policy)
	}
}

// fitting returns a shardStat for every shard whose current size is still
// under maxBytes, in shard order.
func (s *Selector) fitting() ([]shardStat, error) {
	var out []shardStat
	for i, shard := range s.shards {
		st, err := shard.Stat()
		if err != nil {
			return nil, err
		}
		if st.FileSize >= s.maxBytes {
			continue
		}
		out = append(out, shardStat{idx: i, shard: shard, size: st.FileSize, files: st.LiveRecords + st.DeletedRecords})
	}
	return out, nil
}

// selectFill picks the fullest candidate, breaking ties toward the one
// with more files: the first candidate found with strictly greater size,
// or equal size and strictly more files, displaces the running best.
func (s *Selector) selectFill(candidates []shardStat) *BulkStorage {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.size > best.size || (c.size == best.size && c.files > best.files) {
			best = c
		}
	}
	return best.shard
}

// selectSpread picks the least full candidate, breaking ties toward the
// one with fewer files. Remaining ties are broken by rotating the scan
// start point on every call, so repeatedly-tied shards still get spread
// across instead of always resolving to the same one.
func (s *Selector) selectSpread(candidates []shardStat) *BulkStorage {
	n := len(candidates)
	startPos := 0
	for i, c := range candidates {
		if c.idx >= s.nextSpread {
			startPos = i
			break
		}
	}
	best := candidates[startPos]
	for i := 1; i < n; i++ {
		c := candidates[(startPos+i)%n]
		if c.size < best.size || (c.size == best.size && c.files < best.files) {
			best = c
		}
	}
	s.nextSpread = (best.idx + 1) % len(s.shards)
	return best.shard
}

// Capacity reports a human-readable summary of each shard's current
// size against the configured ceiling, e.g. for CLI/stat output.
func (s *Selector) Capacity() ([]string, error) {
	out := make([]string, 0, len(s.shards))
	for i, shard := range s.shards {
		st, err := shard.Stat()
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("shard %d: %s / %s", i,
			humanize.Bytes(uint64(st.FileSize)), humanize.Bytes(uint64(s.maxBytes))))
	}
	return out, nil
}
