package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/comply/internal/policy"
)

// PolicyCache is a TTL-based in-memory cache with stale-while-revalidate for
// parsed policies. Uses sync.Map for lock-free reads on the hot path: every
// (session × policy) work item in a batch looks its policy up here.
type PolicyCache struct {
	store sync.Map // map[string]*policyCacheEntry
	ttl   time.Duration
}

type policyCacheEntry struct {
	policy     *policy.Policy // nil = negative cache (policy not found)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Policy       *policy.Policy // nil if not found or negative cache
	Hit          bool           // true if a value was found (fresh or stale)
	NeedsRefresh bool           // true if expired — caller should refresh in background
}

// NewPolicyCache creates a cache with the given TTL.
func NewPolicyCache(ttl time.Duration) *PolicyCache {
	return &PolicyCache{ttl: ttl}
}

func policyCacheKey(projectID, policyID string) string {
	return projectID + ":" + policyID
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *PolicyCache) Get(projectID, policyID string) CacheGetResult {
	key := policyCacheKey(projectID, policyID)
	val, ok := c.store.Load(key)
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*policyCacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return CacheGetResult{
			Policy: entry.policy,
			Hit:    true,
		}
	}

	// Stale hit: signal refresh needed (only one goroutine wins the CAS).
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Policy:       entry.policy,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a parsed policy with a fresh TTL.
// Passing nil stores a negative cache entry (policy not found).
func (c *PolicyCache) Set(projectID, policyID string, p *policy.Policy) {
	key := policyCacheKey(projectID, policyID)
	c.store.Store(key, &policyCacheEntry{
		policy:    p,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *PolicyCache) Delete(projectID, policyID string) {
	c.store.Delete(policyCacheKey(projectID, policyID))
}
