package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
	"github.com/taniko/roadsync/internal/models"
	"github.com/taniko/roadsync/internal/repositories/accounts"
)

// Reconciler converges the authoritative account table and the cloud
// identity store. It matches primarily on cloud subject id and falls back to
// case-insensitive email; it only ever adds or links, never deletes.
type Reconciler struct {
	accounts accounts.Repository
	identity cloud.IdentityAPI
	pageSize int
	logger   logging.Logger
	now      func() time.Time
}

func NewReconciler(repo accounts.Repository, identity cloud.IdentityAPI,
	pageSize int, logger logging.Logger) *Reconciler {
	return &Reconciler{
		accounts: repo,
		identity: identity,
		pageSize: pageSize,
		logger:   logger.With("service", "reconciler"),
		now:      time.Now,
	}
}

// WithNow replaces the clock, for deterministic tests.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// ReconcileIdentities runs both directions and returns the combined report.
func (r *Reconciler) ReconcileIdentities(ctx context.Context) (*models.SyncReport, error) {
	return r.Reconcile(ctx, models.DirectionBoth)
}

// Reconcile runs the halves selected by direction. Both full populations are
// fetched up front; if either store cannot be listed the pass aborts with
// ErrReconciliationUnavailable rather than reconciling against a partial view.
func (r *Reconciler) Reconcile(ctx context.Context, direction models.Direction) (*models.SyncReport, error) {
	report := &models.SyncReport{StartedAt: r.now().UTC()}

	accts, err := r.accounts.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %v: %w", err, common.ErrReconciliationUnavailable)
	}
	idents, err := r.fetchAllIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cloud identities: %v: %w", err, common.ErrReconciliationUnavailable)
	}

	report.TotalLocal = len(accts)
	report.TotalCloud = len(idents)

	byEmail := make(map[string]*models.Account, len(accts))
	bySubject := make(map[string]*models.Account, len(accts))
	for i := range accts {
		a := &accts[i]
		byEmail[strings.ToLower(a.Email)] = a
		if a.CloudSubjectID != "" {
			bySubject[a.CloudSubjectID] = a
		}
	}

	if direction == models.DirectionCloudToLocal || direction == models.DirectionBoth {
		r.cloudToLocal(ctx, idents, byEmail, bySubject, &report.CloudToLocal)
	}
	if direction == models.DirectionLocalToCloud || direction == models.DirectionBoth {
		r.localToCloud(ctx, accts, &report.LocalToCloud)
	}

	report.FinishedAt = r.now().UTC()
	r.logger.Info(ctx, "identity reconciliation finished",
		"direction", direction,
		"total_local", report.TotalLocal, "total_cloud", report.TotalCloud,
		"cloud_to_local", report.CloudToLocal, "local_to_cloud", report.LocalToCloud)
	return report, nil
}

// fetchAllIdentities pages through the identity listing until exhaustion.
func (r *Reconciler) fetchAllIdentities(ctx context.Context) ([]models.CloudIdentity, error) {
	var all []models.CloudIdentity
	token := ""
	for {
		page, err := r.identity.ListUsers(ctx, r.pageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Users...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// cloudToLocal materializes missing accounts from cloud identities and
// attaches subject ids to accounts matched by email.
func (r *Reconciler) cloudToLocal(ctx context.Context, idents []models.CloudIdentity,
	byEmail, bySubject map[string]*models.Account, rep *models.DirectionReport) {

	outcome := func(kind string) {
		metrics.ReconcileRecordsTotal.
			WithLabelValues(string(models.DirectionCloudToLocal), kind).Inc()
	}

	for _, ident := range idents {
		if _, ok := bySubject[ident.SubjectID]; ok {
			rep.Skipped++
			outcome("skipped")
			continue
		}

		if ident.Email == "" {
			r.logger.Warn(ctx, "cloud identity has no email, cannot reconcile",
				"subject_id", ident.SubjectID)
			rep.Errors++
			outcome("error")
			continue
		}

		if acct, ok := byEmail[strings.ToLower(ident.Email)]; ok {
			if acct.CloudSubjectID == "" {
				if err := r.accounts.AttachSubjectID(ctx, acct.ID, ident.SubjectID); err != nil {
					r.logger.Error(ctx, "attaching subject id failed",
						"account_id", acct.ID, "subject_id", ident.SubjectID, "error", err)
					rep.Errors++
					outcome("error")
					continue
				}
				acct.CloudSubjectID = ident.SubjectID
				bySubject[ident.SubjectID] = acct
			}
			rep.Skipped++
			outcome("skipped")
			continue
		}

		given, family := models.SplitDisplayName(ident.DisplayName)
		created, err := r.accounts.Create(ctx, &models.Account{
			CloudSubjectID:   ident.SubjectID,
			Email:            ident.Email,
			GivenName:        given,
			FamilyName:       family,
			CreatedFromCloud: true,
		})
		if err != nil {
			r.logger.Error(ctx, "creating account from cloud identity failed",
				"subject_id", ident.SubjectID, "error", err)
			rep.Errors++
			outcome("error")
			continue
		}

		byEmail[strings.ToLower(created.Email)] = created
		bySubject[created.CloudSubjectID] = created
		rep.Added++
		outcome("added")
	}
}

// localToCloud pushes accounts without a linked identity up to the cloud.
// An identity already existing under the same email is linked, not recreated.
func (r *Reconciler) localToCloud(ctx context.Context, accts []models.Account,
	rep *models.DirectionReport) {

	outcome := func(kind string) {
		metrics.ReconcileRecordsTotal.
			WithLabelValues(string(models.DirectionLocalToCloud), kind).Inc()
	}

	for i := range accts {
		a := &accts[i]
		if a.CloudSubjectID != "" {
			rep.Skipped++
			outcome("skipped")
			continue
		}

		ident, err := r.identity.GetUserByEmail(ctx, a.Email)
		if err == nil {
			if err := r.accounts.AttachSubjectID(ctx, a.ID, ident.SubjectID); err != nil {
				r.logger.Error(ctx, "attaching subject id failed",
					"account_id", a.ID, "subject_id", ident.SubjectID, "error", err)
				rep.Errors++
				outcome("error")
				continue
			}
			a.CloudSubjectID = ident.SubjectID
			rep.Skipped++
			outcome("skipped")
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			r.logger.Error(ctx, "looking up cloud identity failed",
				"email", a.Email, "error", err)
			rep.Errors++
			outcome("error")
			continue
		}

		displayName := strings.TrimSpace(a.GivenName + " " + a.FamilyName)
		subjectID, err := r.identity.CreateUser(ctx, cloud.NewUser{
			Email:       a.Email,
			DisplayName: displayName,
		})
		if err != nil {
			r.logger.Error(ctx, "creating cloud identity failed",
				"account_id", a.ID, "error", err)
			rep.Errors++
			outcome("error")
			continue
		}

		if err := r.accounts.AttachSubjectID(ctx, a.ID, subjectID); err != nil {
			r.logger.Error(ctx, "attaching subject id after create failed",
				"account_id", a.ID, "subject_id", subjectID, "error", err)
			rep.Errors++
			outcome("error")
			continue
		}
		a.CloudSubjectID = subjectID
		rep.Added++
		outcome("added")
	}
}
