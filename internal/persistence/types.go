package persistence

import (
	"fmt"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/groundtruth"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
)

// Backend is one storage medium serving every durable collection.
type Backend interface {
	jobs.Store
	groundtruth.Store
	config.SettingsRepository
	Driver() string
	Close() error
}

var (
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*FileStore)(nil)
)

// Open returns the backend selected by driver.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case config.StoreDriverSQLite, "":
		return NewSQLiteStore(path)
	case config.StoreDriverFile:
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
