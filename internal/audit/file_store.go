package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"riskcore/internal/logger"
	"riskcore/internal/types"

	"github.com/tidwall/gjson"
)

const (
	transitionsFile = "transitions.jsonl"
	overridesFile   = "overrides.jsonl"
)

// FileStore 以 JSONL 文件实现审计日志：每条记录一行、自包含，
// 每条流各有一把互斥锁，保证并发写不会交错出半条记录。
// 目录与文件在首次写入时才创建。
type FileStore struct {
	dir string

	transitionsMu   sync.Mutex
	transitionsFile *os.File

	overridesMu   sync.Mutex
	overridesFile *os.File
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit file store requires a directory")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) LogTransition(ctx context.Context, t types.StageTransition) error {
	s.transitionsMu.Lock()
	defer s.transitionsMu.Unlock()
	file, err := s.streamLocked(&s.transitionsFile, transitionsFile)
	if err != nil {
		return err
	}
	return appendRecord(file, t)
}

func (s *FileStore) LogOverrideAttempt(ctx context.Context, o types.OverrideAttempt) error {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	file, err := s.streamLocked(&s.overridesFile, overridesFile)
	if err != nil {
		return err
	}
	return appendRecord(file, o)
}

// streamLocked 惰性打开追加流，调用方必须已持有对应流的锁。
func (s *FileStore) streamLocked(slot **os.File, name string) (*os.File, error) {
	if *slot != nil {
		return *slot, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir failed: %w", err)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit stream %s failed: %w", name, err)
	}
	*slot = f
	return f, nil
}

func appendRecord(file *os.File, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record failed: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit record failed: %w", err)
	}
	return nil
}

func (s *FileStore) QueryTransitions(ctx context.Context, start, end time.Time) ([]types.StageTransition, error) {
	var out []types.StageTransition
	err := scanStream(filepath.Join(s.dir, transitionsFile), start, end, func(line []byte) {
		var t types.StageTransition
		if err := json.Unmarshal(line, &t); err != nil {
			logger.Warnf("skip malformed transition record: %v", err)
			return
		}
		out = append(out, t)
	})
	return out, err
}

func (s *FileStore) QueryOverrideAttempts(ctx context.Context, start, end time.Time) ([]types.OverrideAttempt, error) {
	var out []types.OverrideAttempt
	err := scanStream(filepath.Join(s.dir, overridesFile), start, end, func(line []byte) {
		var o types.OverrideAttempt
		if err := json.Unmarshal(line, &o); err != nil {
			logger.Warnf("skip malformed override record: %v", err)
			return
		}
		out = append(out, o)
	})
	return out, err
}

// scanStream 顺序扫描一条流。写入按整条记录追加，读侧无需加锁。
// 先用 gjson 抽出时间戳做区间预筛，区间外的行不做完整反序列化。
// 流文件不存在视为空结果而不是错误。
func scanStream(path string, start, end time.Time, emit func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open audit stream failed: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		tsField := gjson.GetBytes(line, "timestamp")
		if !tsField.Exists() {
			logger.Warnf("skip audit record without timestamp")
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, tsField.String())
		if err != nil {
			logger.Warnf("skip audit record with bad timestamp %q: %v", tsField.String(), err)
			continue
		}
		if !inDateRange(ts, start, end) {
			continue
		}
		emit(append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan audit stream failed: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.transitionsMu.Lock()
	if s.transitionsFile != nil {
		s.transitionsFile.Close()
		s.transitionsFile = nil
	}
	s.transitionsMu.Unlock()

	s.overridesMu.Lock()
	if s.overridesFile != nil {
		s.overridesFile.Close()
		s.overridesFile = nil
	}
	s.overridesMu.Unlock()
	return nil
}
