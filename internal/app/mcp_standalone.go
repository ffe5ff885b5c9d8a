package app

import (
	"context"

	mcpserver "etlplanner/internal/mcp"
)

// ServeMCP serves the MCP tools on stdin/stdout until ctx is done or stdin closes.
// Runs started from MCP are awaited before returning.
func (a *App) ServeMCP(ctx context.Context, version string) error {
	srv := mcpserver.New(mcpserver.Deps{
		Pipelines:  a.svc,
		Calculator: a.calc,
		Logger:     a.log.With("component", "mcp"),
		Version:    version,
	})
	err := srv.ServeStdio(ctx)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if werr := a.svc.WaitRunning(waitCtx); werr != nil {
		a.log.Warn("mcp: runs still in flight", "error", werr)
	}
	return err
}
