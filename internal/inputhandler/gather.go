package inputhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/tensor"
)

var (
	// ErrDuplicateShard is returned when the same shard id is delivered twice
	// for one input name.
	ErrDuplicateShard = errors.New("shard delivered more than once")
	// ErrShardOutOfRange is returned for a shard id not below the shard count.
	ErrShardOutOfRange = errors.New("shard id out of range")
	// ErrMissingShard is returned when consolidation finds a gap in the shard ids.
	ErrMissingShard = errors.New("shard missing at consolidation")
	// ErrShardShapeMismatch is returned when shards of one input disagree on
	// shape, precision or byte length.
	ErrShardShapeMismatch = errors.New("shard shape mismatch")
)

// GatherInputHandler collects one buffer per shard for every input name and
// stacks them into a single buffer once all shards have arrived.
type GatherInputHandler struct {
	*NodeInputHandler

	shardCount uint32
	alloc      tensor.Allocator
	shards     map[string]map[uint32]*tensor.Buffer
	logger     *slog.Logger
}

// NewGather creates a handler expecting dependencies × shardCount deliveries.
func NewGather(ctx context.Context, dependencies int, shardCount uint32, alloc tensor.Allocator) *GatherInputHandler {
	if alloc == nil {
		alloc = tensor.HeapAllocator{}
	}
	return &GatherInputHandler{
		NodeInputHandler: New(dependencies * int(shardCount)),
		shardCount:       shardCount,
		alloc:            alloc,
		shards:           make(map[string]map[uint32]*tensor.Buffer),
		logger:           ctxlog.FromContext(ctx),
	}
}

// ShardCount returns the number of shards gathered per input.
func (h *GatherInputHandler) ShardCount() uint32 { return h.shardCount }

// SetInput records one shard of an input. A repeated shard id is rejected
// and leaves previously delivered shards untouched.
func (h *GatherInputHandler) SetInput(name string, buf *tensor.Buffer, shardID uint32) error {
	if shardID >= h.shardCount {
		return fmt.Errorf("input %q shard %d of %d: %w", name, shardID, h.shardCount, ErrShardOutOfRange)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	shardMap, ok := h.shards[name]
	if !ok {
		shardMap = make(map[uint32]*tensor.Buffer, h.shardCount)
		h.shards[name] = shardMap
	}
	if _, dup := shardMap[shardID]; dup {
		return fmt.Errorf("input %q shard %d: %w", name, shardID, ErrDuplicateShard)
	}
	shardMap[shardID] = buf
	return nil
}

// NotifyFinishedDependency decrements the remaining count and consolidates
// every input when it reaches zero.
func (h *GatherInputHandler) NotifyFinishedDependency() (bool, error) {
	n, err := h.decrement()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return true, h.consolidateLocked()
}

func (h *GatherInputHandler) consolidateLocked() error {
	names := make([]string, 0, len(h.shards))
	for name := range h.shards {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		shardMap := h.shards[name]
		h.logger.Debug("Consolidating shards.", "input", name, "shards", len(shardMap))

		combined, err := h.stack(name, shardMap)
		if err != nil {
			return err
		}
		if err := h.setLocked(name, combined); err != nil {
			_ = combined.Release()
			return err
		}
		for _, shard := range shardMap {
			_ = shard.Release()
		}
		delete(h.shards, name)
	}
	return nil
}

// stack lays the shards out by ascending shard id behind a new leading
// dimension equal to the shard count.
func (h *GatherInputHandler) stack(name string, shardMap map[uint32]*tensor.Buffer) (*tensor.Buffer, error) {
	if uint32(len(shardMap)) != h.shardCount {
		return nil, fmt.Errorf("input %q: got %d of %d shards: %w", name, len(shardMap), h.shardCount, ErrMissingShard)
	}

	first, ok := shardMap[0]
	if !ok {
		return nil, fmt.Errorf("input %q shard 0: %w", name, ErrMissingShard)
	}
	shape := first.Shape()
	precision := first.Precision()
	step := first.Len()

	for id := uint32(1); id < h.shardCount; id++ {
		shard, ok := shardMap[id]
		if !ok {
			return nil, fmt.Errorf("input %q shard %d: %w", name, id, ErrMissingShard)
		}
		if !shard.Shape().Equal(shape) || shard.Precision() != precision || shard.Len() != step {
			return nil, fmt.Errorf("input %q shard %d has %s %s/%dB, shard 0 has %s %s/%dB: %w",
				name, id, shard.Shape(), shard.Precision(), shard.Len(), shape, precision, step, ErrShardShapeMismatch)
		}
	}

	combined, err := h.alloc.Allocate(name, shape.Prepend(uint64(h.shardCount)), precision, step*int(h.shardCount))
	if err != nil {
		return nil, fmt.Errorf("allocating consolidated input %q: %w", name, err)
	}
	dst, err := combined.Data()
	if err != nil {
		return nil, err
	}
	for id := uint32(0); id < h.shardCount; id++ {
		src, err := shardMap[id].Data()
		if err != nil {
			_ = combined.Release()
			return nil, fmt.Errorf("input %q shard %d: %w", name, id, err)
		}
		copy(dst[int(id)*step:], src)
	}
	return combined, nil
}

// Clear drops the references to consolidated inputs and any shards that
// were never consolidated.
func (h *GatherInputHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, shardMap := range h.shards {
		for _, shard := range shardMap {
			_ = shard.Release()
		}
		delete(h.shards, name)
	}
	h.clearLocked()
}
