/*
Package model defines the value types shared by the control service and
the convergence agent: datasets, manifestations, applications, nodes,
node state reports, and the deployment graph that ties them together.

Every exported type is an immutable value. Constructors and "With"-style
methods always return a new value; nothing in this package exposes a
mutable reference to shared state. Collections that the spec describes
as sets or mappings are represented as slices sorted by a stable key
(dataset ID, hostname, or application name) so that two values built
from the same logical data compare equal and encode identically — see
MarshalCanonical.
*/
package model
