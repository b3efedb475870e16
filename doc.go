// Package thumbq provides the asynchronous thumbnail-generation job queue
// for the Modelibr asset catalog. It offers a durable work queue that
// decouples rendering, performed by detached worker processes, from the
// request-serving API, plus real-time status fan-out to interested clients.
//
// thumbq is designed as a library, not a service. Import it, configure a
// store, and drive the engine; cmd/thumbqd is the reference server.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.New(st)
//	j, err := eng.Enqueue(ctx, assetID, fingerprint)
//
// # Architecture
//
// thumbq follows a composable store pattern where each subsystem (job,
// event) defines its own store interface. A single backend implements
// all of them; store/memory, store/postgres, and store/bun ship with the
// module. Claims are handed out through optimistic concurrency: every
// job row carries a version, and each transition is a single conditional
// update, so at most one worker ever holds a Processing claim.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package thumbq
