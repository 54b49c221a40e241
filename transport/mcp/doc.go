// Package mcp exposes PuzzleBot to AI agents over the Model Context Protocol.
//
// The Client is a thin proxy: every tool call is translated into a REST API
// request, so agents and browsers always see the same sessions.
//
// MCP Tools:
//   - list_levels: Levels and puzzle summaries
//   - create_session: New session on a catalog puzzle
//   - game_state: Board, robot, queue and score as text
//   - add_command, queue_commands: Append moves to the queue
//   - remove_command, clear_commands: Edit the queue
//   - run: Execute the program and wait for the outcome
//   - reset: Start a new attempt
//   - next_puzzle: Move on through the catalog
//   - game_instructions: Rules and legend
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: the /mcp endpoint of the main server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
