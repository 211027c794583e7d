package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/taniko/roadsync/internal/blob"
)

type objectRef struct {
	ObjectKey string `json:"object_key"`
}

// stagePhotoPayload moves photo bytes into object storage and returns the
// payload the backend stores instead: a JSON reference to the uploaded key.
// Payloads that already reference an object pass through unchanged, which
// keeps re-pushes of the same record idempotent on the blob side.
func stagePhotoPayload(ctx context.Context, blobs blob.Store, payload json.RawMessage) (json.RawMessage, error) {
	var ref objectRef
	if err := json.Unmarshal(payload, &ref); err == nil && ref.ObjectKey != "" {
		return payload, nil
	}

	data := []byte(payload)
	// Records drained out of the document store carry photo bytes as a
	// base64 JSON string.
	var encoded string
	if err := json.Unmarshal(payload, &encoded); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding photo payload: %w", err)
		}
		data = decoded
	}

	key, url, err := blobs.PresignPut(ctx)
	if err != nil {
		return nil, fmt.Errorf("presigning photo upload: %w", err)
	}
	if err := blobs.Upload(ctx, url, data); err != nil {
		return nil, fmt.Errorf("uploading photo: %w", err)
	}

	staged, err := json.Marshal(objectRef{ObjectKey: key})
	if err != nil {
		return nil, err
	}
	return staged, nil
}
