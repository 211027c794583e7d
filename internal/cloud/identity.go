// Package cloud holds the adapters for the external cloud platform: the
// identity admin API and the document store. Both are consumed through
// interfaces so the sync services can be tested against fakes.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/models"
)

// UserPage is one page of the identity listing.
type UserPage struct {
	Users         []models.CloudIdentity
	NextPageToken string
}

// NewUser describes an identity to create cloud-side. No password is ever
// set by the sync core; the platform must require a credential reset flow.
type NewUser struct {
	Email       string
	DisplayName string
}

// IdentityAPI is the cloud identity store contract used by reconciliation.
type IdentityAPI interface {
	// ListUsers returns one page of identities; an empty NextPageToken
	// means the listing is exhausted.
	ListUsers(ctx context.Context, pageSize int, pageToken string) (*UserPage, error)
	// CreateUser creates a passwordless identity and returns its subject id.
	CreateUser(ctx context.Context, user NewUser) (string, error)
	// GetUserByEmail returns common.ErrNotFound when no identity has that email.
	GetUserByEmail(ctx context.Context, email string) (*models.CloudIdentity, error)
}

// RESTIdentityClient implements IdentityAPI against an identity-toolkit
// style admin REST API.
type RESTIdentityClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRESTIdentityClient(baseURL, apiKey string, timeout time.Duration) *RESTIdentityClient {
	return &RESTIdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type wireUser struct {
	SubjectID   string    `json:"subjectId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u wireUser) toModel() models.CloudIdentity {
	return models.CloudIdentity{
		SubjectID:   u.SubjectID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func (c *RESTIdentityClient) ListUsers(ctx context.Context, pageSize int, pageToken string) (*UserPage, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var out struct {
		Users         []wireUser `json:"users"`
		NextPageToken string     `json:"nextPageToken"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}

	page := &UserPage{NextPageToken: out.NextPageToken}
	for _, u := range out.Users {
		page.Users = append(page.Users, u.toModel())
	}
	return page, nil
}

func (c *RESTIdentityClient) CreateUser(ctx context.Context, user NewUser) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":       user.Email,
		"displayName": user.DisplayName,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		SubjectID string `json:"subjectId"`
	}
	if err := c.do(ctx, http.MethodPost, "/accounts", bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("creating identity for %s: %w", user.Email, err)
	}
	return out.SubjectID, nil
}

func (c *RESTIdentityClient) GetUserByEmail(ctx context.Context, email string) (*models.CloudIdentity, error) {
	q := url.Values{}
	q.Set("email", email)

	var out wireUser
	err := c.do(ctx, http.MethodGet, "/accounts:lookup?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	identity := out.toModel()
	return &identity, nil
}

func (c *RESTIdentityClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return common.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("identity api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding identity response: %w", err)
		}
	}
	return nil
}
