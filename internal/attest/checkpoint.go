package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpointer persists the last block whose attestations were handled.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lastProcessed uint64) error
}

// StreamKey names the attestation stream of a contract and schema. Cursors
// saved for one stream are ignored by another.
func StreamKey(contract common.Address, schema common.Hash) string {
	return fmt.Sprintf("attestations:%s:%s", contract.Hex(), schema.Hex())
}

type fileState struct {
	Stream             string    `json:"stream"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FileCheckpoint keeps the cursor of one stream in a JSON file, replaced
// atomically on every save.
type FileCheckpoint struct {
	path   string
	stream string
}

func NewFileCheckpoint(path, stream string) *FileCheckpoint {
	return &FileCheckpoint{path: path, stream: stream}
}

func (c *FileCheckpoint) Load(context.Context) (uint64, bool, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	if state.Stream != c.stream {
		return 0, false, nil
	}
	return state.LastProcessedBlock, true, nil
}

func (c *FileCheckpoint) Save(_ context.Context, lastProcessed uint64) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}

	data, err := json.Marshal(fileState{
		Stream:             c.stream,
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

// StateStore is a named cursor store such as the Postgres agent_state table.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, cursor uint64) error
}

// StateCheckpoint keeps the cursor under a stream name in a StateStore.
type StateCheckpoint struct {
	store StateStore
	name  string
}

func NewStateCheckpoint(store StateStore, stream string) *StateCheckpoint {
	return &StateCheckpoint{store: store, name: stream}
}

func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *StateCheckpoint) Save(ctx context.Context, lastProcessed uint64) error {
	return c.store.SaveState(ctx, c.name, lastProcessed)
}
