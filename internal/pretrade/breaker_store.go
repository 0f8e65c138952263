package pretrade

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"riskcore/internal/types"
)

// BreakerStore 持久化单条熔断器状态记录。
type BreakerStore interface {
	Load() (types.BreakerState, error)
	Save(state types.BreakerState) error
}

// FileBreakerStore 把熔断器状态保存为单个 JSON 文件。
type FileBreakerStore struct {
	path string
}

func NewFileBreakerStore(path string) (*FileBreakerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("breaker store requires a path")
	}
	return &FileBreakerStore{path: path}, nil
}

func (s *FileBreakerStore) Load() (types.BreakerState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.BreakerState{}, ErrNoState
		}
		return types.BreakerState{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var state types.BreakerState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.BreakerState{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return state, nil
}

func (s *FileBreakerStore) Save(state types.BreakerState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
