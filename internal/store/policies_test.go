package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap"
)

const validPolicyDoc = `{
	"id": "pol-1",
	"name": "no deletes",
	"policy_type": "composite",
	"violation_logic_type": "FORBID_ALL",
	"forbidden": ["deleted"],
	"checks": {
		"deleted": {"type": "tool_call", "tool_name": "delete_customer"}
	}
}`

// mockPolicyRowStore is a test helper.
type mockPolicyRowStore struct {
	row       *policyRow
	err       error
	callCount int
}

func (m *mockPolicyRowStore) LookupPolicy(_ context.Context, _, _ string) (*policyRow, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestPolicyProvider_CacheHit(t *testing.T) {
	store := &mockPolicyRowStore{
		row: &policyRow{ID: "pol-1", ProjectID: "proj-1", Document: validPolicyDoc, UpdatedAt: time.Now()},
	}
	prov := newPostgresPolicyProviderWithStore(store, 30*time.Second, zap.NewNop())

	// First call: cache miss, document parsed and validated.
	pol, err := prov.GetPolicy(context.Background(), "proj-1", "pol-1")
	if err != nil {
		t.Fatal(err)
	}
	if pol.Name != "no deletes" {
		t.Fatalf("expected parsed policy, got %+v", pol)
	}
	if store.callCount != 1 {
		t.Fatalf("expected 1 DB call, got %d", store.callCount)
	}

	// Second call: cache hit.
	pol, err = prov.GetPolicy(context.Background(), "proj-1", "pol-1")
	if err != nil {
		t.Fatal(err)
	}
	if pol == nil {
		t.Fatal("expected cached policy")
	}
	if store.callCount != 1 {
		t.Fatalf("expected still 1 DB call (cache hit), got %d", store.callCount)
	}
}

func TestPolicyProvider_NotFound(t *testing.T) {
	store := &mockPolicyRowStore{err: sql.ErrNoRows}
	prov := newPostgresPolicyProviderWithStore(store, 30*time.Second, zap.NewNop())

	pol, err := prov.GetPolicy(context.Background(), "proj-1", "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if pol != nil {
		t.Fatal("expected nil for not-found policy")
	}

	// Negative cache: second call does not hit the DB.
	pol, _ = prov.GetPolicy(context.Background(), "proj-1", "nonexistent")
	if pol != nil {
		t.Fatal("expected nil from negative cache")
	}
	if store.callCount != 1 {
		t.Fatalf("expected still 1 DB call (negative cache), got %d", store.callCount)
	}
}

func TestPolicyProvider_InvalidDocument(t *testing.T) {
	store := &mockPolicyRowStore{
		row: &policyRow{ID: "pol-1", ProjectID: "proj-1", Document: `{"id": "pol-1"}`},
	}
	prov := newPostgresPolicyProviderWithStore(store, 30*time.Second, zap.NewNop())

	_, err := prov.GetPolicy(context.Background(), "proj-1", "pol-1")
	if err == nil {
		t.Fatal("expected error for document failing validation")
	}
}

func TestPolicyProvider_DBError(t *testing.T) {
	store := &mockPolicyRowStore{err: context.DeadlineExceeded}
	prov := newPostgresPolicyProviderWithStore(store, 30*time.Second, zap.NewNop())

	_, err := prov.GetPolicy(context.Background(), "proj-1", "pol-1")
	if err == nil {
		t.Fatal("expected error on DB failure")
	}
}
