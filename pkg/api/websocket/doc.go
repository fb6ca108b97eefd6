// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive the run and node
// events of one run as JSON text messages. The server closes the
// connection once the run has finished.
package websocket
