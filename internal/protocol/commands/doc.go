// Package commands implements the payload layouts and handlers for the
// built-in levin command codes.
//
// Ownership boundary:
// - fixed-layout little-endian payload codecs per command code
// - decoder registration into a levin.PayloadTable
// - handshake, ping, timed sync, chain and tx pool handlers over a Chain
//
// Framing, trust state and transport writes stay in package levin.
package commands
