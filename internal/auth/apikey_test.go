package auth

import (
	"errors"
	"strings"
	"testing"
)

func testAPIKeyStore(t *testing.T) *APIKeyStore {
	t.Helper()
	return NewAPIKeyStore(testDB(t))
}

func TestAPIKeyCreateAndValidate(t *testing.T) {
	store := testAPIKeyStore(t)

	raw, key, err := store.Create("KAM@example.com", "laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(raw, "kams_") {
		t.Errorf("raw key %q lacks prefix", raw)
	}
	if len(raw) != len("kams_")+apiKeyBytes*2 {
		t.Errorf("raw key length = %d", len(raw))
	}
	if !strings.HasPrefix(raw, key.KeyPrefix) {
		t.Errorf("prefix %q does not match key", key.KeyPrefix)
	}

	email, err := store.Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if email != "kam@example.com" {
		t.Errorf("email = %q, want kam@example.com", email)
	}

	email, err = store.Validate("kams_bogus")
	if err != nil || email != "" {
		t.Errorf("Validate(bogus) = %q, %v; want empty, nil", email, err)
	}
}

func TestAPIKeyValidateUpdatesLastUsed(t *testing.T) {
	store := testAPIKeyStore(t)
	raw, _, err := store.Create("kam@example.com", "cli")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := store.List("kam@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if keys[0].LastUsedAt != nil {
		t.Fatal("new key already has last_used_at")
	}

	if _, err := store.Validate(raw); err != nil {
		t.Fatalf("validate: %v", err)
	}
	keys, err = store.List("kam@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if keys[0].LastUsedAt == nil {
		t.Error("expected last_used_at after validation")
	}
}

func TestAPIKeyListScopedToOwner(t *testing.T) {
	store := testAPIKeyStore(t)
	for _, owner := range []string{"a@example.com", "a@example.com", "b@example.com"} {
		if _, _, err := store.Create(owner, "k"); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	keys, err := store.List("a@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].ID < keys[1].ID {
		t.Error("expected newest first")
	}
}

func TestAPIKeyDelete(t *testing.T) {
	store := testAPIKeyStore(t)
	raw, key, err := store.Create("a@example.com", "k")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Delete(key.ID, "b@example.com"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("delete by non-owner err = %v, want ErrKeyNotFound", err)
	}
	if err := store.Delete(key.ID, "a@example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if email, _ := store.Validate(raw); email != "" {
		t.Error("deleted key still validates")
	}
}

func TestAPIKeyRevoke(t *testing.T) {
	store := testAPIKeyStore(t)
	raw, _, err := store.Create("a@example.com", "k")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Revoke(raw); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if email, _ := store.Validate(raw); email != "" {
		t.Error("revoked key still validates")
	}
}
