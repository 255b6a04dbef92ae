package node

import (
	"fmt"

	"github.com/vk/gridflow/internal/sessionmeta"
	"github.com/vk/gridflow/internal/tensor"
)

// Result is what one session produced for its consumers.
type Result struct {
	Metadata sessionmeta.Metadata
	Outputs  map[string]*tensor.Buffer
}

// SessionResults is the sink FetchResults writes to, keyed by session key.
// Every buffer in it carries one reference owned by the sink; Release drops
// them once the buffers have been delivered.
type SessionResults map[string]*Result

func (r SessionResults) add(meta sessionmeta.Metadata, outputs map[string]*tensor.Buffer) error {
	key := meta.Key()
	if _, exists := r[key]; exists {
		return fmt.Errorf("session %s: %w", key, ErrResultsConflict)
	}
	r[key] = &Result{Metadata: meta, Outputs: outputs}
	return nil
}

// Release drops the sink's references and empties it.
func (r SessionResults) Release() {
	for key, res := range r {
		releaseAll(res.Outputs)
		delete(r, key)
	}
}

func releaseAll(bufs map[string]*tensor.Buffer) {
	for _, b := range bufs {
		_ = b.Release()
	}
}

type releaseError struct {
	entry string
	code  int
}

func (e *releaseError) Error() string {
	return fmt.Sprintf("library %s returned code %d", e.entry, e.code)
}
