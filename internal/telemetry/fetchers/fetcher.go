package fetchers

import (
	"context"

	"observatory-ops/internal/telemetry/domain"
)

// Fetcher retrieves the current snapshot for one telemetry source.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context) (domain.Snapshot, error)
}
