package inputhandler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/tensor"
)

func u8(name string, shape tensor.Shape, data ...byte) *tensor.Buffer {
	return tensor.New(name, shape, tensor.U8, data)
}

func TestNodeInputHandler_ReadyAfterExactlyNDeliveries(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("upstream=%d", n), func(t *testing.T) {
			h := New(n)
			for i := 0; i < n; i++ {
				require.NoError(t, h.SetInput(fmt.Sprintf("in%d", i), u8("x", tensor.Shape{1}, byte(i)), 0))
				ready, err := h.NotifyFinishedDependency()
				require.NoError(t, err)
				assert.Equal(t, i == n-1, ready, "delivery %d", i)
			}
			assert.Equal(t, int32(0), h.Remaining())
			assert.Len(t, h.Inputs(), n)

			ready, err := h.NotifyFinishedDependency()
			assert.False(t, ready)
			assert.ErrorIs(t, err, ErrTooManyDependencies)
		})
	}
}

func TestNodeInputHandler_DuplicateNameRejected(t *testing.T) {
	h := New(2)
	first := u8("a", tensor.Shape{1}, 1)
	require.NoError(t, h.SetInput("a", first, 0))

	err := h.SetInput("a", u8("a", tensor.Shape{1}, 2), 0)
	assert.ErrorIs(t, err, ErrDuplicateInput)
	assert.Same(t, first, h.Inputs()["a"])
}

func TestNodeInputHandler_ConcurrentNotifyHasSingleObserver(t *testing.T) {
	const n = 200
	h := New(n)

	var observed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.SetInput(fmt.Sprintf("in%d", i), u8("x", tensor.Shape{1}, 0), 0))
			ready, err := h.NotifyFinishedDependency()
			assert.NoError(t, err)
			if ready {
				observed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), observed.Load())
	assert.Len(t, h.Inputs(), n)
}

func TestNodeInputHandler_ClearReleasesInputs(t *testing.T) {
	h := New(1)
	buf := u8("a", tensor.Shape{1}, 1)
	require.NoError(t, h.SetInput("a", buf, 0))

	h.Clear()
	assert.True(t, buf.Released())
	assert.Empty(t, h.Inputs())
}

func TestGather_ReadyAfterAllShards(t *testing.T) {
	const shards = 4
	h := NewGather(context.Background(), 1, shards, nil)
	assert.Equal(t, int32(shards), h.Remaining())

	for id := uint32(0); id < shards; id++ {
		require.NoError(t, h.SetInput("x", u8("x", tensor.Shape{2}, byte(id), byte(id)), id))
		ready, err := h.NotifyFinishedDependency()
		require.NoError(t, err)
		assert.Equal(t, id == shards-1, ready)
	}

	inputs := h.Inputs()
	require.Contains(t, inputs, "x")
	assert.Equal(t, tensor.Shape{shards, 2}, inputs["x"].Shape())
	data, err := inputs["x"].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1, 1, 2, 2, 3, 3}, data)
}

func TestGather_DuplicateShardRejectedWithoutCorruption(t *testing.T) {
	h := NewGather(context.Background(), 1, 2, nil)
	first := u8("x", tensor.Shape{1}, 10)
	require.NoError(t, h.SetInput("x", first, 0))
	ready, err := h.NotifyFinishedDependency()
	require.NoError(t, err)
	require.False(t, ready)

	intruder := u8("x", tensor.Shape{1}, 99)
	err = h.SetInput("x", intruder, 0)
	assert.ErrorIs(t, err, ErrDuplicateShard)
	assert.False(t, intruder.Released(), "rejected buffer stays with the caller")

	require.NoError(t, h.SetInput("x", u8("x", tensor.Shape{1}, 11), 1))
	ready, err = h.NotifyFinishedDependency()
	require.NoError(t, err)
	require.True(t, ready)

	data, err := h.Inputs()["x"].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 11}, data)
	assert.True(t, first.Released(), "shard references are dropped after consolidation")
}

func TestGather_ShardOutOfRange(t *testing.T) {
	h := NewGather(context.Background(), 1, 2, nil)
	err := h.SetInput("x", u8("x", tensor.Shape{1}, 1), 2)
	assert.ErrorIs(t, err, ErrShardOutOfRange)
}

func TestGather_ShapeMismatchFailsConsolidation(t *testing.T) {
	tests := []struct {
		name  string
		shard *tensor.Buffer
	}{
		{"shape", u8("x", tensor.Shape{1, 2}, 1, 2)},
		{"length", u8("x", tensor.Shape{2}, 1, 2, 3)},
		{"precision", tensor.New("x", tensor.Shape{2}, tensor.I8, []byte{1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGather(context.Background(), 1, 2, nil)
			require.NoError(t, h.SetInput("x", u8("x", tensor.Shape{2}, 1, 2), 0))
			_, err := h.NotifyFinishedDependency()
			require.NoError(t, err)

			require.NoError(t, h.SetInput("x", tt.shard, 1))
			ready, err := h.NotifyFinishedDependency()
			assert.True(t, ready, "zero transition is still observed")
			assert.ErrorIs(t, err, ErrShardShapeMismatch)
			assert.NotContains(t, h.Inputs(), "x", "no corrupted buffer is installed")
		})
	}
}

func TestGather_MissingShardFailsConsolidation(t *testing.T) {
	// Two upstream producers, two shards: "a" gets three deliveries and "b" one.
	h := NewGather(context.Background(), 2, 2, nil)
	require.NoError(t, h.SetInput("a", u8("a", tensor.Shape{1}, 1), 0))
	require.NoError(t, h.SetInput("a", u8("a", tensor.Shape{1}, 2), 1))
	require.NoError(t, h.SetInput("b", u8("b", tensor.Shape{1}, 3), 0))
	for i := 0; i < 3; i++ {
		_, err := h.NotifyFinishedDependency()
		require.NoError(t, err)
	}
	ready, err := h.NotifyFinishedDependency()
	assert.True(t, ready)
	assert.ErrorIs(t, err, ErrMissingShard)
}

func TestGather_ConsolidationIsOrderIndependent(t *testing.T) {
	const shards = 8
	payload := func(id uint32) []byte { return []byte{byte(id), byte(id * 2), byte(id * 3)} }

	run := func(order []uint32) []byte {
		h := NewGather(context.Background(), 1, shards, nil)
		var wg sync.WaitGroup
		wg.Add(len(order))
		for _, id := range order {
			go func(id uint32) {
				defer wg.Done()
				assert.NoError(t, h.SetInput("x", u8("x", tensor.Shape{3}, payload(id)...), id))
				_, err := h.NotifyFinishedDependency()
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		buf := h.Inputs()["x"]
		require.NotNil(t, buf)
		data, err := buf.Data()
		require.NoError(t, err)
		return data
	}

	ascending := make([]uint32, shards)
	for i := range ascending {
		ascending[i] = uint32(i)
	}
	want := run(ascending)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		order := append([]uint32(nil), ascending...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		if diff := cmp.Diff(want, run(order)); diff != "" {
			t.Fatalf("order %v produced a different layout (-want +got):\n%s", order, diff)
		}
	}
}

func TestGather_ClearReleasesPendingShards(t *testing.T) {
	h := NewGather(context.Background(), 1, 2, nil)
	shard := u8("x", tensor.Shape{1}, 1)
	require.NoError(t, h.SetInput("x", shard, 0))

	h.Clear()
	assert.True(t, shard.Released())
}

func TestSortedNames(t *testing.T) {
	got := SortedNames(map[string]*tensor.Buffer{"b": nil, "a": nil, "c": nil})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
