// Package server exposes the chat hub over HTTP and WebSocket.
//
// The implementation is organized into specialized files for configuration,
// clients, origin checks, routing, and HTTP handlers. All chat state lives in
// the hub; this package only moves frames between sockets and the hub.
package server
