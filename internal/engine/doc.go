// Package engine applies pushed mutations to authoritative server state.
//
// A push is a batch of mutations from one client group. The Pusher walks
// the batch in order and hands each mutation to the Processor, which runs
// the whole per-mutation state machine inside one serializable transaction:
//
//  1. lock and load the client group (or default it, owned by the actor)
//  2. reject if the actor does not own the group
//  3. lock and load the client (or default it into this group)
//  4. reject if the client belongs to another group
//  5. expected := lastMutationID + 1
//  6. id < expected: already applied, commit without writes
//  7. id > expected: sequence gap, roll back
//  8. id == expected: run the handler (skipped in error mode), then
//     persist the group and advance the client to expected
//
// The business effect of a mutation and the advance of its client's
// lastMutationID commit together or not at all.
//
// When the first attempt fails for any reason the Pusher retries once in
// error mode: the handler is skipped, the mutation is recorded as skipped,
// and the sequence still advances. A mutation that keeps failing therefore
// cannot block every later mutation of its client.
//
// Row locks are always taken client group first, then client. Two pushes
// for the same client group serialize on the group lock; pushes for
// different groups proceed in parallel.
package engine
