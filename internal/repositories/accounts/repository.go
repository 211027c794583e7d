// Package accounts persists Account rows in the authoritative relational
// store.
package accounts

import (
	"context"

	"github.com/taniko/roadsync/internal/models"
)

// Repository is the Account persistence contract used by the reconciler.
// The sync core never deletes accounts.
type Repository interface {
	GetAll(ctx context.Context) ([]models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetBySubjectID(ctx context.Context, subjectID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	// AttachSubjectID links an existing account to a cloud identity. It is
	// a no-op when the account already has a subject id.
	AttachSubjectID(ctx context.Context, accountID, subjectID string) error
}
