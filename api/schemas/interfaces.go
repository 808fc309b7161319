package schemas

import (
	"context"
)

// -- Reporting Interfaces --

// SnapshotSink receives diagnostic snapshots captured when an obstruction
// could not be cleared. Implementations decide where the artifact lives and
// return a reference to it that can be logged or shown to the user.
type SnapshotSink interface {
	// Attach persists the snapshot and returns a reference to the stored
	// artifact (a path, URL or identifier).
	Attach(ctx context.Context, snap Snapshot) (string, error)
}

// SnapshotSinkFunc adapts a plain function to the SnapshotSink interface.
type SnapshotSinkFunc func(ctx context.Context, snap Snapshot) (string, error)

// Attach calls f(ctx, snap).
func (f SnapshotSinkFunc) Attach(ctx context.Context, snap Snapshot) (string, error) {
	return f(ctx, snap)
}
