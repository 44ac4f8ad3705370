package providerauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

// probeTimeout bounds the remote API call in CheckConnection.
const probeTimeout = 8 * time.Second

// SecretsMasked returns only availability flags to avoid exposing secrets in
// command output.
type SecretsMasked struct {
	HasAPIKey bool `json:"hasApiKey"`
}

// ConnectionStep reports a single step in connection checks.
type ConnectionStep struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ConnectionCheckResult contains outcomes for all connection check steps.
type ConnectionCheckResult struct {
	OK    bool             `json:"ok"`
	Steps []ConnectionStep `json:"steps"`
}

// ProbeFunc makes the cheapest possible authenticated call against the
// provider. The production probe counts tokens on the profile's model.
type ProbeFunc func(ctx context.Context, apiKey, model string) error

// Module ties profile metadata to keychain secrets.
type Module struct {
	store   *Store
	keyring *KeyringStore
	probe   ProbeFunc
}

// NewModule creates a provider auth module. probe may be nil when no
// connection checks will be run.
func NewModule(store *Store, keyringStore *KeyringStore, probe ProbeFunc) *Module {
	return &Module{
		store:   store,
		keyring: keyringStore,
		probe:   probe,
	}
}

func (m *Module) ListProfiles() ([]Profile, error) {
	return m.store.List()
}

func (m *Module) SaveProfile(p Profile) (Profile, error) {
	return m.store.Save(p)
}

func (m *Module) GetProfile(id string) (*Profile, error) {
	return m.store.Get(id)
}

// DeleteProfile removes a profile and its stored API key.
func (m *Module) DeleteProfile(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := m.keyring.Delete(id); err != nil && !strings.Contains(strings.ToLower(err.Error()), "not found") {
		return err
	}
	return m.store.Delete(id)
}

func (m *Module) SetAPIKey(id, apiKey string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("api key is required")
	}
	return m.keyring.SetAPIKey(id, apiKey)
}

func (m *Module) GetSecretsMasked(id string) (SecretsMasked, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SecretsMasked{}, fmt.Errorf("profile id is required")
	}
	var out SecretsMasked

	if _, err := m.keyring.GetAPIKey(id); err == nil {
		out.HasAPIKey = true
	} else if !isKeyringNotFound(err) {
		return out, err
	}
	return out, nil
}

func isKeyringNotFound(err error) bool {
	return err != nil && (errors.Is(err, keyring.ErrNotFound) || strings.Contains(strings.ToLower(err.Error()), "not found"))
}

// ResolveKey returns the API key to use for a profile.
func (m *Module) ResolveKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("profile id is required")
	}
	key, err := m.keyring.GetAPIKey(id)
	if err != nil {
		return "", fmt.Errorf("missing api key: %w", err)
	}
	return key, nil
}

// CheckConnection verifies a profile's credentials step by step: the key
// must be present, then a cheap call against the profile's model must
// succeed. Step failures land in the result; only caller errors (unknown
// profile) are returned.
func (m *Module) CheckConnection(ctx context.Context, id string) (ConnectionCheckResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ConnectionCheckResult{}, fmt.Errorf("profile id is required")
	}
	profile, err := m.store.Get(id)
	if err != nil {
		return ConnectionCheckResult{}, err
	}

	result := ConnectionCheckResult{
		OK:    false,
		Steps: []ConnectionStep{},
	}

	step1 := ConnectionStep{Name: "credentials"}
	apiKey, err := m.keyring.GetAPIKey(id)
	if err != nil || strings.TrimSpace(apiKey) == "" {
		step1.Success = false
		if err != nil {
			step1.Message = err.Error()
		} else {
			step1.Message = "api key is empty"
		}
		result.Steps = append(result.Steps, step1)
		return result, nil
	}
	step1.Success = true
	result.Steps = append(result.Steps, step1)

	step2 := ConnectionStep{Name: "api"}
	if m.probe == nil {
		step2.Success = false
		step2.Message = "no connection probe configured"
		result.Steps = append(result.Steps, step2)
		return result, nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := m.probe(probeCtx, apiKey, profile.Model); err != nil {
		step2.Success = false
		step2.Message = err.Error()
		result.Steps = append(result.Steps, step2)
		return result, nil
	}
	step2.Success = true
	result.Steps = append(result.Steps, step2)
	result.OK = true
	return result, nil
}
