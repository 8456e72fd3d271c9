package weather

import (
	"context"
)

// FetchResult is the raw payload of one segment and where it came from.
type FetchResult struct {
	Body   []byte
	Cached bool
}

// SegmentFetcher abstracts the upstream history source (e.g. NASA POWER).
type SegmentFetcher interface {
	Fetch(ctx context.Context, loc Location, seg Segment) (FetchResult, error)
}

// RawStore persists raw segment payloads. Presence of an entry means the
// segment was already fetched.
type RawStore interface {
	Get(ctx context.Context, seg Segment) ([]byte, bool, error)
	Put(ctx context.Context, seg Segment, body []byte) error
}

// Loader writes a merged dataset to the destination table. runID names the
// staging artifacts of the load.
type Loader interface {
	Load(ctx context.Context, runID string, ds Dataset) (LoadResult, error)
}
