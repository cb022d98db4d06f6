package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// Portal keyring item keys
const (
	PortalUsernameKey = "portal-username"
	PortalPasswordKey = "portal-password"
)

// Store reads secrets by key
type Store interface {
	Get(key string) (string, error)
}

// Keyring reads secrets from the OS keyring
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the keyring for serviceName
func OpenKeyring(serviceName string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// Get retrieves a credential value by key
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Static serves secrets from configuration
type Static map[string]string

// Get returns the configured value for key
func (s Static) Get(key string) (string, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", fmt.Errorf("credential %q is not configured", key)
	}
	return v, nil
}

// Chain tries each store in order and returns the first value found
type Chain []Store

// Get returns the first successful lookup
func (c Chain) Get(key string) (string, error) {
	var errs []error
	for _, s := range c {
		if s == nil {
			continue
		}
		v, err := s.Get(key)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("credential %q: no credential store configured", key)
	}
	return "", errors.Join(errs...)
}

// Set stores a credential value under key
func (k *Keyring) Set(key, value string) error {
	if value == "" {
		return fmt.Errorf("credential %q is empty", key)
	}
	if err := k.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: key}); err != nil {
		return fmt.Errorf("storing credential %q: %w", key, err)
	}
	return nil
}
