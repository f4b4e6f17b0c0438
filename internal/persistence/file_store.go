package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/groundtruth"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
)

const (
	jobsDir        = "jobs"
	groundTruthDir = "ground_truth"
	correctionsDir = "corrections"
	settingsFile   = "settings.json"
)

// FileStore keeps one JSON document per record under a root directory. Every
// write goes to a temp file that is fsynced and renamed over the target.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

type settingsDocument struct {
	Snapshot  *config.Snapshot        `json:"snapshot"`
	ChangeLog []config.ChangeLogEntry `json:"change_log"`
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	for _, dir := range []string{jobsDir, groundTruthDir, correctionsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Driver() string { return config.StoreDriverFile }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) SaveJob(_ context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	path, err := s.recordPath(jobsDir, job.JobID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(path, job)
}

func (s *FileStore) GetJob(_ context.Context, jobID string) (*jobs.Job, error) {
	path, err := s.recordPath(jobsDir, jobID)
	if err != nil {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var job jobs.Job
	if err := readJSON(path, &job); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("job %s not found", jobID)
		}
		return nil, err
	}
	return &job, nil
}

func (s *FileStore) ListJobs(_ context.Context) ([]jobs.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]jobs.Summary, 0)
	err := s.eachDocument(jobsDir, func(path string) error {
		var job jobs.Job
		if err := readJSON(path, &job); err != nil {
			return err
		}
		ret = append(ret, job.Summary())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].JobID > ret[j].JobID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret, nil
}

func (s *FileStore) SaveRecord(_ context.Context, record *groundtruth.Record) error {
	if record == nil {
		return fmt.Errorf("ground truth record is nil")
	}
	path, err := s.recordPath(groundTruthDir, record.EvaluationID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(path, record)
}

func (s *FileStore) GetRecord(_ context.Context, evaluationID string) (*groundtruth.Record, error) {
	path, err := s.recordPath(groundTruthDir, evaluationID)
	if err != nil {
		return nil, apperr.NotFound("ground truth record %s not found", evaluationID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record groundtruth.Record
	if err := readJSON(path, &record); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("ground truth record %s not found", evaluationID)
		}
		return nil, err
	}
	return &record, nil
}

func (s *FileStore) ListRecords(_ context.Context, fileID string, limit int) ([]*groundtruth.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*groundtruth.Record, 0)
	err := s.eachDocument(groundTruthDir, func(path string) error {
		var record groundtruth.Record
		if err := readJSON(path, &record); err != nil {
			return err
		}
		if fileID == "" || record.FileID == fileID {
			ret = append(ret, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].EvaluationID > ret[j].EvaluationID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

func (s *FileStore) AddCorrection(_ context.Context, c groundtruth.Correction) error {
	path, err := s.recordPath(correctionsDir, c.EvaluationID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make([]groundtruth.Correction, 0)
	if err := readJSON(path, &existing); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	existing = append(existing, c)
	return writeJSONAtomic(path, existing)
}

func (s *FileStore) ListCorrections(_ context.Context, evaluationID string) ([]groundtruth.Correction, error) {
	path, err := s.recordPath(correctionsDir, evaluationID)
	if err != nil {
		return []groundtruth.Correction{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]groundtruth.Correction, 0)
	if err := readJSON(path, &ret); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return ret, nil
}

func (s *FileStore) LoadSettings(_ context.Context) (*config.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.readSettings()
	if err != nil {
		return nil, err
	}
	return doc.Snapshot, nil
}

// SaveSettings rewrites snapshot and change log as one document.
func (s *FileStore) SaveSettings(_ context.Context, snapshot *config.Snapshot, entry config.ChangeLogEntry) error {
	if snapshot == nil {
		return fmt.Errorf("settings snapshot is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSettings()
	if err != nil {
		return err
	}
	doc.Snapshot = snapshot
	doc.ChangeLog = append(doc.ChangeLog, entry)
	return writeJSONAtomic(filepath.Join(s.root, settingsFile), doc)
}

func (s *FileStore) ListChangeLog(_ context.Context, limit int) ([]config.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.readSettings()
	if err != nil {
		return nil, err
	}
	ret := make([]config.ChangeLogEntry, 0, len(doc.ChangeLog))
	for i := len(doc.ChangeLog) - 1; i >= 0; i-- {
		if limit > 0 && len(ret) == limit {
			break
		}
		ret = append(ret, doc.ChangeLog[i])
	}
	return ret, nil
}

func (s *FileStore) readSettings() (settingsDocument, error) {
	var doc settingsDocument
	if err := readJSON(filepath.Join(s.root, settingsFile), &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settingsDocument{}, nil
		}
		return settingsDocument{}, err
	}
	return doc, nil
}

func (s *FileStore) recordPath(dir, id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	return filepath.Join(s.root, dir, id+".json"), nil
}

func (s *FileStore) eachDocument(dir string, fn func(path string) error) error {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		if err := fn(filepath.Join(s.root, dir, name)); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
	}
	return nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// writeJSONAtomic replaces path with the encoded value. A crash leaves either
// the old file or the new one, plus at most a stray temp file.
func writeJSONAtomic(path string, v any) (err error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// best effort: some filesystems reject fsync on directories
	_ = d.Sync()
	return nil
}
