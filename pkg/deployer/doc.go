/*
Package deployer implements the Deployer capability consumed by the
convergence loop (spec.md §4.3), grounded on the original Flocker
IDeployer/IStateChange protocol (original_source/flocker/node/test/test_loop.py)
and on cuemby-warren's containerd-backed runtime
(pkg/runtime/containerd.go, pkg/worker/worker.go) for the concrete
container lifecycle operations a StateChange actually performs.
*/
package deployer
