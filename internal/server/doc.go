// Package server implements the service's network surfaces: the UDP ingest
// server receiving framed audio from capture shims, the HTTP monitoring and
// transcript API, and the websocket hub streaming live segments.
package server
