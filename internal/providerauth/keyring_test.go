package providerauth

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringStoreSetGetDelete(t *testing.T) {
	k := NewKeyringStore("adlib-test", filepath.Join(t.TempDir(), "fallback_secrets.json"))
	profileID := "profile-test"

	if err := k.SetAPIKey(profileID, "api-key-123"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}

	apiKey, err := k.GetAPIKey(profileID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if apiKey != "api-key-123" {
		t.Fatalf("unexpected api key: %q", apiKey)
	}

	if err := k.Delete(profileID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := k.GetAPIKey(profileID); !errors.Is(err, keyring.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKeyringStoreMissingKey(t *testing.T) {
	k := NewKeyringStore("adlib-test", filepath.Join(t.TempDir(), "fallback_secrets.json"))

	if _, err := k.GetAPIKey("never-set"); !errors.Is(err, keyring.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := k.Delete("never-set"); err != nil {
		t.Fatalf("Delete of absent key should be tolerated: %v", err)
	}
}

func TestKeyringStoreRequiresProfileID(t *testing.T) {
	k := NewKeyringStore("adlib-test", filepath.Join(t.TempDir(), "fallback_secrets.json"))

	if err := k.SetAPIKey("   ", "value"); err == nil {
		t.Fatal("expected error for blank profile id")
	}
	if _, err := k.GetAPIKey(""); err == nil {
		t.Fatal("expected error for blank profile id")
	}
}
