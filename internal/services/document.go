package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/models"
)

// documentFields flattens a record into the shape stored in the document
// store. Photo payloads hold raw bytes, so they travel base64-encoded; the
// remaining kinds carry structured JSON and are embedded as-is.
func documentFields(rec *models.SyncableRecord) map[string]any {
	var payload any = json.RawMessage(rec.Payload)
	if rec.Kind == models.KindPhoto {
		payload = []byte(rec.Payload)
	}
	return map[string]any{
		"client_ref":       rec.LocalID,
		"owner_account_id": rec.OwnerAccountID,
		"kind":             string(rec.Kind),
		"payload":          payload,
		"synced":           rec.Synced,
		"source":           string(rec.Source),
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// recordFromDocument rebuilds a backend-shaped record from a stored document.
// The document id becomes the record's CloudID; client_ref is mandatory
// because it is the dedup key on the backend side.
func recordFromDocument(kind models.RecordKind, doc cloud.Document) (*backend.Record, error) {
	clientRef, _ := doc.Fields["client_ref"].(string)
	if clientRef == "" {
		return nil, fmt.Errorf("document %s: missing client_ref", doc.ID)
	}

	owner, _ := doc.Fields["owner_account_id"].(string)

	payload, err := json.Marshal(doc.Fields["payload"])
	if err != nil {
		return nil, fmt.Errorf("document %s: payload: %w", doc.ID, err)
	}

	createdAt := time.Now().UTC()
	if s, ok := doc.Fields["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			createdAt = t
		}
	}

	return &backend.Record{
		ClientRef: clientRef,
		OwnerID:   owner,
		Kind:      string(kind),
		Payload:   payload,
		CreatedAt: createdAt,
	}, nil
}
