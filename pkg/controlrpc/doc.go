/*
Package controlrpc implements the persistent, bidirectional, framed
protocol between agents and the control service (spec.md §4.5, §6). The
original Flocker protocol (flocker.control._protocol) is Twisted's AMP,
a length-prefixed command/response framing over a long-lived TCP
connection rather than HTTP or gRPC; this package reproduces that shape
directly instead of layering a second RPC stack next to pkg/httpapi.
*/
package controlrpc
