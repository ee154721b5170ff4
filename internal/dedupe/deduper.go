package dedupe

import "context"

// General contract for deduping oracle feed samples (redis, in-memory, etc.)
type Deduper interface {
	// if alreadySeen=true -> duplicate, the sample can be skipped
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
}
