// Package core implements the actor runtime.
//
// A Context owns two executors (one for actor work, one for socket I/O)
// and the service registry. Each Service runs its handlers on a Strand,
// a serialized task queue layered over the shared actor executor, so a
// service never executes two handlers at once while all services share
// the same workers. Services talk only through Dispatch, which posts a
// typed Message onto the destination's strand.
package core
