package cloud

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

// Document is one entry read back from the cloud document store.
type Document struct {
	ID     string
	Fields map[string]any
}

// DocumentStore is the cloud document platform contract used by the write
// coordinator and the full-sync drain.
type DocumentStore interface {
	// AddDocument stores payload in collection and returns the new doc id.
	AddDocument(ctx context.Context, collection string, payload map[string]any) (string, error)
	// Query returns the documents in collection matching every filter.
	Query(ctx context.Context, collection string, filters map[string]any) ([]Document, error)
	// UpdateDocument applies patch to an existing document.
	UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error
	// Ping reports whether the store currently responds.
	Ping(ctx context.Context) bool
}

// CouchStore implements DocumentStore on CouchDB. Collections are modeled
// the usual CouchDB way: a "collection" field on every document plus a
// doc-id prefix, queried through Mango selectors.
type CouchStore struct {
	client *kivik.Client
	dbName string
}

func NewCouchStore(client *kivik.Client, dbName string) *CouchStore {
	return &CouchStore{client: client, dbName: dbName}
}

// docID builds the prefixed document id for a collection entry.
func docID(collection, id string) string {
	return fmt.Sprintf("%s:%s", collection, id)
}

func (s *CouchStore) AddDocument(ctx context.Context, collection string, payload map[string]any) (string, error) {
	db := s.client.DB(s.dbName)

	id := uuid.NewString()
	doc := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc["collection"] = collection

	if _, err := db.Put(ctx, docID(collection, id), doc); err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", collection, err)
	}
	return id, nil
}

func (s *CouchStore) Query(ctx context.Context, collection string, filters map[string]any) ([]Document, error) {
	db := s.client.DB(s.dbName)

	selector := map[string]any{"collection": collection}
	for k, v := range filters {
		selector[k] = v
	}
	query := map[string]any{"selector": selector}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var fields map[string]any
		if err := rows.ScanDoc(&fields); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		id, _ := rows.ID()
		result = append(result, Document{ID: trimCollectionPrefix(collection, id), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading %s query results: %w", collection, err)
	}

	return result, nil
}

func (s *CouchStore) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	db := s.client.DB(s.dbName)

	// CouchDB needs the current _rev, so fetch, merge and put back.
	row := db.Get(ctx, docID(collection, id))

	var doc map[string]any
	if err := row.ScanDoc(&doc); err != nil {
		return fmt.Errorf("failed to load document %s: %w", id, err)
	}
	for k, v := range patch {
		doc[k] = v
	}

	if _, err := db.Put(ctx, docID(collection, id), doc); err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func (s *CouchStore) Ping(ctx context.Context) bool {
	up, err := s.client.Ping(ctx)
	return err == nil && up
}

func trimCollectionPrefix(collection, id string) string {
	prefix := collection + ":"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}
