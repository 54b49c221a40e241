// Package api provides the HTTP REST API of the PuzzleBot server.
//
// Endpoints:
//
// Catalog:
//   - GET /api/levels - List levels with puzzle summaries
//   - GET /api/levels/{level} - Level with full puzzle boards
//
// Session Management:
//   - POST /api/sessions - Create a session ({"level": 1, "index": 1}, both optional)
//   - GET /api/sessions - List sessions (?limit=n)
//   - GET /api/sessions/{id} - Get a session
//   - DELETE /api/sessions/{id} - Delete a session
//
// Game Operations:
//   - GET /api/sessions/{id}/state - Current snapshot
//   - POST /api/sessions/{id}/commands - Queue {"direction": "up"} or {"directions": [...]}
//   - DELETE /api/sessions/{id}/commands - Remove the last queued command
//   - POST /api/sessions/{id}/commands/clear - Empty the queue
//   - POST /api/sessions/{id}/run - Start the queued program (?wait=true blocks until it ends)
//   - POST /api/sessions/{id}/reset - Start a new attempt
//   - POST /api/sessions/{id}/puzzle - Load {"level", "index"}
//   - POST /api/sessions/{id}/next - Load the next catalog puzzle
//
// Accounts (when enabled with WithAccounts):
//   - POST /api/auth/register, POST /api/auth/login
//   - GET /api/me
//   - GET /api/parent/invite-code, GET /api/parent/children
//   - GET /api/parent/children/{id}/report
//   - POST /api/kid/link - Link a kid to a parent with {"invite_code"}
//
// Account routes take "Authorization: Bearer <token>". Session creation
// accepts an optional token; a kid's sessions are recorded for their parent.
//
// Live updates are served on /ws?session=<id>. Handlers do not broadcast;
// the session manager forwards every engine change to the hub.
//
// Run answers 202 when started without waiting, 200 after waiting and 409
// when the engine refused the run (already running, finished attempt or
// empty queue).
//
// Errors are returned as JSON with an HTTP status derived from the error:
//
//	{"error": "session not found: ..."}
package api
