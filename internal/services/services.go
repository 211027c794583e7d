// Package services implements the sync core: the fallback-chain write
// coordinator, the identity reconciler, the unsynced-record tracker, and the
// full-sync aggregator. Store adapters are consumed through interfaces so
// every service can be exercised against fakes.
package services

import (
	"context"

	"github.com/taniko/roadsync/internal/availability"
	"github.com/taniko/roadsync/internal/models"
)

// TokenSource yields the caller's cloud session token. An error means no
// session is available and the cloud store must be skipped.
type TokenSource func(ctx context.Context) (string, error)

// Availability is the prober surface the services consume.
type Availability interface {
	IsReachable(ctx context.Context, target availability.Target) bool
	Invalidate(target availability.Target)
}

// collectionFor maps a record kind to its document-store collection.
func collectionFor(kind models.RecordKind) string {
	switch kind {
	case models.KindReport:
		return "reports"
	case models.KindNotification:
		return "notifications"
	case models.KindPhoto:
		return "photos"
	default:
		return string(kind)
	}
}
