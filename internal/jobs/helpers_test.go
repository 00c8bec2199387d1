package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
	"github.com/ternarybob/ghostrun/internal/services/browser/browsertest"
	badgerstore "github.com/ternarybob/ghostrun/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")

	storage, err := badgerstore.NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func newTestRunner(t *testing.T, storage interfaces.StorageManager, driver *browsertest.Driver) *Runner {
	t.Helper()
	logger := arbor.NewLogger()
	executor := NewExecutor(storage.ArtifactStorage(), logger)
	return NewRunner(driver, executor, storage.ArtifactStorage(), nil, RunnerConfig{
		DefaultTimeout: 5 * time.Second,
		PublicURL:      "http://localhost:8080",
		TraceViewerURL: "https://trace.playwright.dev/?trace=",
	}, logger)
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}

func jobWith(actions ...models.ActionSpec) *models.Job {
	return &models.Job{
		ID:        common.NewJobID(),
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
		Config: models.JobConfig{
			DeviceType:  models.DeviceDesktop,
			BrowserType: models.BrowserChromium,
			Actions:     actions,
		},
	}
}
