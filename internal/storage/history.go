package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxHistory is how many runs the history file keeps.
const MaxHistory = 100

// HistoryItem records one replay or live run.
type HistoryItem struct {
	ID        string     `json:"id" yaml:"id"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
	Source    string     `json:"source" yaml:"source"`
	TestName  string     `json:"test_name" yaml:"test_name"`
	Sink      string     `json:"sink" yaml:"sink"`
	Summary   RunSummary `json:"summary" yaml:"summary"`
}

type RunSummary struct {
	Samples   uint64  `json:"samples" yaml:"samples"`
	Submitted uint64  `json:"submitted" yaml:"submitted"`
	Filtered  uint64  `json:"filtered" yaml:"filtered"`
	Failed    uint64  `json:"failed" yaml:"failed"`
	RowErrors uint64  `json:"row_errors,omitempty" yaml:"row_errors,omitempty"`
	Success   uint64  `json:"success" yaml:"success"`
	Fail      uint64  `json:"fail" yaml:"fail"`
	MeanMs    float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms     float64 `json:"p50_ms" yaml:"p50_ms"`
	P99Ms     float64 `json:"p99_ms" yaml:"p99_ms"`
	Duration  string  `json:"duration" yaml:"duration"`
}

type History struct {
	mu       sync.RWMutex
	filePath string
	items    []HistoryItem
}

// DefaultDir is ~/.samplerelay.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home dir")
	}
	return filepath.Join(home, ".samplerelay"), nil
}

// OpenHistory loads dir/history.json. A missing or unreadable file starts
// an empty history.
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}
	h := &History{filePath: filepath.Join(dir, "history.json")}
	h.load()
	return h, nil
}

func (h *History) load() {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &h.items)
}

// Save prepends item, assigning an ID and timestamp when missing, and
// persists the newest MaxHistory entries.
func (h *History) Save(item HistoryItem) (HistoryItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append([]HistoryItem{item}, h.items...)
	if len(h.items) > MaxHistory {
		h.items = h.items[:MaxHistory]
	}

	data, err := json.MarshalIndent(h.items, "", "  ")
	if err != nil {
		return item, errors.Wrap(err, "encode history")
	}
	if err := os.WriteFile(h.filePath, data, 0o644); err != nil {
		return item, errors.Wrap(err, "write history")
	}
	return item, nil
}

// List returns the runs newest first.
func (h *History) List() []HistoryItem {
	h.mu.RLock()
	defer h.mu.RUnlock()

	res := make([]HistoryItem, len(h.items))
	copy(res, h.items)
	return res
}

func (h *History) Get(id string) (HistoryItem, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, item := range h.items {
		if item.ID == id {
			return item, true
		}
	}
	return HistoryItem{}, false
}
