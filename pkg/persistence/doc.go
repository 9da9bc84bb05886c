/*
Package persistence owns the authoritative desired Deployment. It loads
it from durable storage at startup, caches it in memory so reads never
touch disk, and serializes writes so a Save completes only once the new value
is durable and every registered listener has observed it.

Storage is a single BoltDB bucket holding one versioned envelope,
adapted from the bucket-per-entity layout in cuemby-warren's
pkg/storage/boltdb.go but narrowed to the single value this spec
authorizes a control service to own.
*/
package persistence
