// Package shutdown coordinates graceful shutdown of the bridge process.
//
// Handlers are registered with a phase; lower phases run first and handlers
// within a phase run concurrently. The bridge registers, in order: the
// listener, the executor bridge (rejecting pending commands), MCP clients
// (terminating sessions) and telemetry (flushing spans).
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.HandleSignals()
//	coord.RegisterFunc("http", shutdown.PhaseListener, srv.Shutdown)
//	coord.RegisterFunc("bridge", shutdown.PhaseBridge, func(context.Context) error {
//		return b.Close()
//	})
//	<-coord.Done()
package shutdown
