package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/party"
)

// FileStore is the default Store: one JSON document per node, written
// atomically (write-temp-then-rename) under dir. It needs no external
// service, matching a CLI tool's usual default of writing state files as
// plain JSON files under the node config's state_dir.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

type fileDoc struct {
	LastOutcome  *outcomes.Outcomes  `json:"last_outcome,omitempty"`
	NodeSeen     map[string]time.Time `json:"node_seen,omitempty"`
	RoundHistory *RoundHistory        `json:"round_history,omitempty"`
}

// NewFileStore opens (creating if necessary) a file-backed store rooted
// at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path() string {
	return filepath.Join(f.dir, "state.json")
}

func (f *FileStore) load() (fileDoc, error) {
	var doc fileDoc
	data, err := os.ReadFile(f.path())
	if os.IsNotExist(err) {
		doc.NodeSeen = make(map[string]time.Time)
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("persist: read state failed: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("persist: decode state failed: %w", err)
	}
	if doc.NodeSeen == nil {
		doc.NodeSeen = make(map[string]time.Time)
	}
	return doc, nil
}

func (f *FileStore) save(doc fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encode state failed: %w", err)
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("persist: write state failed: %w", err)
	}
	return os.Rename(tmp, f.path())
}

func (f *FileStore) SaveOutcome(_ context.Context, o outcomes.Outcomes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.LastOutcome = &o
	return f.save(doc)
}

func (f *FileStore) LastOutcome(_ context.Context) (*outcomes.Outcomes, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, false, err
	}
	return doc.LastOutcome, doc.LastOutcome != nil, nil
}

func (f *FileStore) TouchNode(_ context.Context, id party.ID, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.NodeSeen[string(id)] = seenAt
	return f.save(doc)
}

func (f *FileStore) NodeStates(_ context.Context) ([]NodeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]NodeState, 0, len(doc.NodeSeen))
	for id, ts := range doc.NodeSeen {
		out = append(out, NodeState{ID: party.ID(id), LastSeen: ts})
	}
	return out, nil
}

func (f *FileStore) SaveRoundHistory(_ context.Context, h RoundHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.RoundHistory = &h
	return f.save(doc)
}

func (f *FileStore) LoadRoundHistory(_ context.Context) (*RoundHistory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, false, err
	}
	return doc.RoundHistory, doc.RoundHistory != nil, nil
}

func (f *FileStore) Close() error { return nil }
