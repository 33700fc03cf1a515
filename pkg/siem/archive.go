package siem

import "context"

// FallbackArchiver ships a completed fallback day-file to durable
// off-host storage once the day rolls over, so the local
// fallback_dir/YYYY-MM-DD.jsonl is not the only copy of events a sink
// outage forced to disk. This is additional resilience beyond a bare
// local "fallback log directory": each completed day-file is shipped to
// durable off-host object storage under its date key.
type FallbackArchiver interface {
	Archive(ctx context.Context, date string, data []byte) error
}
