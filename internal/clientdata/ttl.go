package clientdata

import (
	"time"

	"github.com/aristath/marketcore/internal/domain"
)

// Retention windows for persisted payloads. These are much longer than the
// in-memory TTLs: a row is only read back once the live fetch has failed.
const (
	RetentionRealtime = 24 * time.Hour
	RetentionKline    = 7 * 24 * time.Hour
	RetentionMetadata = 30 * 24 * time.Hour
	RetentionListing  = 24 * time.Hour
)

// RetentionFor returns the persistence window for kind.
func RetentionFor(kind domain.ArtifactKind) time.Duration {
	switch kind {
	case domain.KindKline:
		return RetentionKline
	case domain.KindMetadata:
		return RetentionMetadata
	case domain.KindListing:
		return RetentionListing
	default:
		return RetentionRealtime
	}
}
