// Package websocket pushes live robot state to browsers and other watchers.
//
// A central Hub tracks clients per play session. Each connection gets a read
// pump and a write pump goroutine; the hub loop registers, unregisters and
// delivers broadcasts.
//
// Message Protocol:
//
// Clients connect to /ws?session=<id>. Every engine change of that session
// is sent as
//
//	{"session_id": "ab12", "event": "state_update", "state": {...snapshot...}}
//
// Incoming client messages are read only to keep the connection alive.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run(ctx)
//	sessions := session.NewManager(session.WithObserver(hub.BroadcastState))
//
// BroadcastState never blocks. It is called from engine run goroutines, so
// when the hub falls behind, updates are dropped instead of stalling a run.
package websocket
