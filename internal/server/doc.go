// Package server implements the HTTP surface of chatgate.
//
// The implementation is organized into specialized files for origin checks,
// handlers, routing, and the HTTP server lifecycle. Protected routes sit
// behind the auth gate; the WebSocket endpoint hands connections to the hub
// and inbound frames to the publish pipeline.
package server
