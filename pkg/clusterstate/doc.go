/*
Package clusterstate aggregates the most recently reported NodeState
per node. It is the Go port of flocker.control._clusterstate's
ClusterStateService: a plain hostname-keyed map, last write wins, never
persisted, and never expires an entry (spec.md §4.2, §9 — expiration is
an open question, decided as "not implemented" in DESIGN.md).
*/
package clusterstate
