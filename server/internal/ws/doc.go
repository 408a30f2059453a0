// Package ws streams the dashboard state to browsers over WebSocket.
//
// Hub.Run pushes a frame to every subscriber each interval and
// Hub.ServeHTTP sends one as soon as a subscriber connects. A plain
// subscriber receives
//
//	{"event": "snapshot", "data": { /* GET /api/v1/snapshot */ }}
//
// while one connecting with ?pile=<id> receives event "pile" with the same
// shape narrowed to that pile and its alerts. The server mounts the hub at
// /ws/stream.
package ws
