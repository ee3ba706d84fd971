// Package levin owns the Levin peer wire contract.
//
// Ownership boundary:
// - 33-byte wire header codec
// - per-connection session state and reassembly of fragmented chunks
// - trust-gated command dispatch
// - outbound notify/request/reply framing
//
// Transport, handler business logic and payload semantics live outside this
// package; they meet it through Transport, Handler and PayloadTable.
package levin
