// Package app constructs the application object graph: configuration,
// database pool, Genkit, the capability tools, the agent graph, and the
// HTTP server, with embedded cleanup.
package app

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harshtiwari/haral/internal/api"
	"github.com/harshtiwari/haral/internal/chat"
	"github.com/harshtiwari/haral/internal/config"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/memory"
	"github.com/harshtiwari/haral/internal/session"
)

// App owns the constructed components and their teardown order.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Memory   *memory.Store
	Sessions *session.Manager
	Service  *chat.Service
	Server   *api.Server

	// wg tracks detached memory write-backs so Close can drain them.
	wg       sync.WaitGroup
	bgCancel context.CancelFunc

	dbCleanup   func()
	otelCleanup func()
}

// Close releases resources in reverse construction order. In-flight
// memory write-backs are drained before the pool closes so they can
// still reach the database.
func (a *App) Close() error {
	a.wg.Wait()

	if a.bgCancel != nil {
		a.bgCancel()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
