package importjob

import "context"

// Store persists jobs as a row projection plus an append-only event log.
// Append validates the event against the last committed one, so the log
// never regresses and nothing follows a terminal event.
type Store interface {
	Create(ctx context.Context, job Job, first Event) error
	Append(ctx context.Context, id string, e Event, u Update) error
	Get(ctx context.Context, id string) (Job, error)
	Events(ctx context.Context, id string) ([]Event, error)
	List(ctx context.Context, opts ListOpts) ([]Job, error)
}
