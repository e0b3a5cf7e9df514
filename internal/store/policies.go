package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/comply/internal/policy"
	"go.uber.org/zap"
)

// PolicyProvider supplies parsed, validated policies for a project.
type PolicyProvider interface {
	// GetPolicy returns nil (no error) when the policy is not registered,
	// so a deleted policy degrades to a skipped evaluation rather than a
	// failed job.
	GetPolicy(ctx context.Context, projectID, policyID string) (*policy.Policy, error)
}

// policyRowStore abstracts DB queries for testability.
type policyRowStore interface {
	LookupPolicy(ctx context.Context, projectID, policyID string) (*policyRow, error)
}

type policyRow struct {
	ID        string
	ProjectID string
	Document  string // JSONB as string
	UpdatedAt time.Time
}

// sqlPolicyStore is the real implementation using *sql.DB.
type sqlPolicyStore struct {
	db *sql.DB
}

func (s *sqlPolicyStore) LookupPolicy(ctx context.Context, projectID, policyID string) (*policyRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, document, updated_at
		FROM policies
		WHERE project_id = $1 AND id = $2
	`, projectID, policyID)

	var r policyRow
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Document, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresPolicyProvider fetches policy documents from the policies table,
// validating them at load time and caching the parsed form.
type PostgresPolicyProvider struct {
	store  policyRowStore
	cache  *PolicyCache
	logger *zap.Logger
}

// PostgresPolicyProviderConfig configures the PostgresPolicyProvider.
type PostgresPolicyProviderConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresPolicyProvider creates a new PostgresPolicyProvider.
func NewPostgresPolicyProvider(cfg PostgresPolicyProviderConfig) *PostgresPolicyProvider {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PostgresPolicyProvider{
		store:  &sqlPolicyStore{db: cfg.DB},
		cache:  NewPolicyCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresPolicyProviderWithStore creates a provider with a custom row
// store (for testing).
func newPostgresPolicyProviderWithStore(store policyRowStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresPolicyProvider {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresPolicyProvider{
		store:  store,
		cache:  NewPolicyCache(cacheTTL),
		logger: logger,
	}
}

func (p *PostgresPolicyProvider) GetPolicy(ctx context.Context, projectID, policyID string) (*policy.Policy, error) {
	cacheResult := p.cache.Get(projectID, policyID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go p.refreshInBackground(projectID, policyID)
		}
		return cacheResult.Policy, nil
	}

	// Cache miss: fetch and parse.
	pol, err := p.fetchFromDB(ctx, projectID, policyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Negative cache: policy not found.
			p.cache.Set(projectID, policyID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}

	p.cache.Set(projectID, policyID, pol)
	return pol, nil
}

func (p *PostgresPolicyProvider) fetchFromDB(ctx context.Context, projectID, policyID string) (*policy.Policy, error) {
	row, err := p.store.LookupPolicy(ctx, projectID, policyID)
	if err != nil {
		return nil, err
	}
	pol, err := policy.Load([]byte(row.Document))
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", policyID, err)
	}
	return pol, nil
}

func (p *PostgresPolicyProvider) refreshInBackground(projectID, policyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pol, err := p.fetchFromDB(ctx, projectID, policyID)
	if err != nil {
		p.logger.Warn("background policy refresh failed",
			zap.String("project_id", projectID),
			zap.String("policy_id", policyID),
			zap.Error(err),
		)
		return
	}
	p.cache.Set(projectID, policyID, pol)
}
