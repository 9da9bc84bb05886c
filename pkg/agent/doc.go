/*
Package agent implements the two coupled state machines that drive a
node's participation in the cluster (spec.md §4.6-§4.8): the
cluster-status FSM tracking connectivity to the control service, and
the convergence-loop FSM that discovers, reports, and converges local
state. Both have an explicit state enum and run on a single goroutine,
the idiom cuemby-warren uses for its loops (pkg/worker, pkg/reconciler),
generalized from their ticker-driven loops to event-driven ones. The
cluster-status FSM dispatches through a transition table; the
convergence loop runs its phases in sequence around a single-slot latch.
*/
package agent
