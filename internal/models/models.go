// Package models defines the data types shared by the sync core: accounts,
// cloud identities, syncable records, and the reports produced by a
// reconciliation pass.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// RecordKind identifies one of the mutable record families the fallback
// chain applies to. All kinds are structurally identical for sync purposes.
type RecordKind string

const (
	KindReport       RecordKind = "report"
	KindNotification RecordKind = "notification"
	KindPhoto        RecordKind = "photo"
)

// Kinds lists every record kind, in the order bulk operations iterate them.
func Kinds() []RecordKind {
	return []RecordKind{KindReport, KindNotification, KindPhoto}
}

// Source tags the store a record was created in when the authoritative
// backend was not the one that took the write.
type Source string

const (
	SourceLocal Source = "LOCAL"
	SourceCloud Source = "CLOUD"
)

// Origin reports which store actually received a write.
type Origin string

const (
	OriginBackend Origin = "BACKEND"
	OriginCloud   Origin = "CLOUD"
	OriginLocal   Origin = "LOCAL"
)

// Direction selects which halves of a full sync pass run.
type Direction string

const (
	DirectionCloudToLocal Direction = "CLOUD_TO_LOCAL"
	DirectionLocalToCloud Direction = "LOCAL_TO_CLOUD"
	DirectionBoth         Direction = "BOTH"
)

// Account is the authoritative relational record for a user.
//
// At most one Account exists per email, and CloudSubjectID is unique when
// set. The sync core only ever mutates an Account to attach a missing
// CloudSubjectID; it never deletes.
type Account struct {
	// ID is the local, authoritative identifier.
	ID string

	// CloudSubjectID links the account to its cloud identity. Empty means
	// not yet linked.
	CloudSubjectID string

	// Email is the unique matching key across stores.
	Email string

	GivenName  string
	FamilyName string

	// CreatedFromCloud is true when the account was materialized from a
	// cloud identity during reconciliation rather than local registration.
	CreatedFromCloud bool

	CreatedAt time.Time
}

// CloudIdentity is a user record owned by the cloud identity store. The core
// reads it freely but only creates one during a local-to-cloud push.
type CloudIdentity struct {
	SubjectID   string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// SyncableRecord is the uniform envelope for issue reports, notifications
// and photos. The LocalID travels with the record across stores and is the
// upsert identifier that prevents duplication.
type SyncableRecord struct {
	// LocalID is assigned at creation and never changes.
	LocalID string

	// CloudID is the cloud document id, attached once the record has been
	// pushed to the document store. Empty until then.
	CloudID string

	OwnerAccountID string
	Kind           RecordKind

	// Payload is the kind-specific body. Reports and notifications carry
	// JSON; photos carry raw image bytes until the backend path swaps them
	// for an object-storage key.
	Payload json.RawMessage

	// Synced is true once the authoritative counterpart is known to exist.
	Synced bool

	Source    Source
	CreatedAt time.Time
}

// DirectionReport holds the per-direction counters of a reconciliation pass.
type DirectionReport struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// SyncReport is the transient summary returned by reconciliation and full
// sync calls. It is produced fresh every time and never persisted.
type SyncReport struct {
	CloudToLocal DirectionReport `json:"cloud_to_local"`
	LocalToCloud DirectionReport `json:"local_to_cloud"`

	TotalCloud int `json:"total_cloud"`
	TotalLocal int `json:"total_local"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// CloudError and BackendError carry partial-failure detail instead of
	// aborting the pass. Empty means the corresponding store cooperated.
	CloudError   string `json:"cloud_error,omitempty"`
	BackendError string `json:"backend_error,omitempty"`
}

// RecordStats summarizes the sync state of one record kind.
type RecordStats struct {
	Total    int `json:"total"`
	Synced   int `json:"synced"`
	Unsynced int `json:"unsynced"`
}

// SplitDisplayName splits a single display-name string into given and family
// parts: the first token becomes the given name and the remainder the family
// name. Either part may come back empty.
func SplitDisplayName(displayName string) (given, family string) {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
