// File: internal/store/interfaces.go
package store

import (
	"context"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
	"github.com/xkilldash9x/pilot-engine/internal/verification"
)

// Repository is everything the engine persists. Both Store and MemoryStore
// satisfy it.
type Repository interface {
	session.Store
	router.ConfigStore
	catalog.CacheStore
	llmclient.UsageSink
	verification.AuditSink
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// Migrator is implemented by stores with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}
