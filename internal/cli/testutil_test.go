package cli

import (
	"context"
	"testing"

	"github.com/emiliopalmerini/msplit/internal/adapters/memory"
	"github.com/emiliopalmerini/msplit/internal/infrastructure/config"
	"github.com/emiliopalmerini/msplit/internal/logging"
)

// testApp wires an AppContext on a fresh memory store.
func testApp(t *testing.T) *AppContext {
	t.Helper()

	cfg := &config.Config{Split: config.Split{Store: config.StoreMemory}}
	app := newAppContext(context.Background(), cfg, logging.Discard(), memory.NewStore())
	t.Cleanup(func() { app.Close(context.Background()) })
	return app
}
