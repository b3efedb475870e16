package thumbq

import "context"

// Storer is the minimal lifecycle contract every backend satisfies.
// Subsystem interfaces (job.Store, event.Store) are defined next to the
// entities they persist; a single backend implements all of them and is
// handed to the engine, which type-asserts the subsystems it needs.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
