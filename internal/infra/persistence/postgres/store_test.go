package postgres

import "testing"

func TestNewStoreAllowsNilPool(t *testing.T) {
	store := New(nil)
	if store == nil {
		t.Fatalf("expected store instance")
	}
	if store.Pool() != nil {
		t.Fatalf("expected nil pool passthrough")
	}
}

func TestNewStoreBundlesRepositories(t *testing.T) {
	store := New(nil)
	if store.Conns() == nil {
		t.Fatalf("expected conn repository")
	}
	if store.TxLog() == nil {
		t.Fatalf("expected txlog repository")
	}
	if store.Sessions() == nil {
		t.Fatalf("expected session repository")
	}
	if store.Settings() == nil {
		t.Fatalf("expected settings repository")
	}
}
