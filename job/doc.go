// Package job defines the thumbnail job entity, its state machine, and
// the store interface.
//
// # Job Entity
//
// A [Job] represents one unit of thumbnail-render work. It embeds
// [thumbq.Entity] for timestamps, references an asset and the content
// fingerprint the render derives from, and progresses through a state
// machine:
//
//	pending → processing → ready
//	pending → processing → pending            (failure, attempts left)
//	pending → processing → failed             (failure, budget exhausted)
//	processing → pending | failed             (lease expired)
//
// Ready and failed are terminal. The claim fields (ClaimOwner, ClaimedAt)
// are set exactly while the job is processing, and AttemptCount grows by
// one per successful claim, never otherwise.
//
// # Concurrency
//
// Jobs are shared mutable state across many workers. The [Store]
// contract therefore exposes transitions, not writes: each operation is
// a single atomic conditional update, and claim-path operations are
// additionally keyed on the job's Version so that exactly one of any
// number of racing callers wins.
package job
