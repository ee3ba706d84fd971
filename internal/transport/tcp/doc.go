// Package tcp carries levin frames over TCP connections.
//
// Each connection gets a uuid handle and one read goroutine that delivers
// connected, data and disconnected events to an EventSink in order. Writes
// take a per-connection mutex and a write deadline.
package tcp
