// Package service provides the business logic layer for the puzzle game.
//
// GameService is the single surface the HTTP, WebSocket and MCP transports
// talk to. It resolves sessions through a SessionManager, puzzles through a
// ConfigManager, and drives each session's engine: building the command
// queue, starting runs, resetting attempts and moving between puzzles.
// Every mutating call persists the session afterwards.
//
// Usage:
//
//	catalog, _ := config.NewManager("configs")
//	sessions := session.NewManager()
//	svc := service.NewGameService(sessions, catalog, service.WithRunContext(ctx))
//
//	info, err := svc.CreateSession(ctx, "", 1, 1)
//	if err != nil {
//		return err
//	}
//	svc.AddCommands(ctx, info.ID, []string{"right", "right"})
//	result, err := svc.Run(ctx, info.ID, true)
//
// Runs started through the service belong to the run context, not to the
// caller's context, so a finished HTTP request does not stop a robot that is
// still moving.
package service
