// Package secret resolves sensitive connection values such as passwords.
package secret

import (
	"os"
	"strings"
	"sync"
)

// SecretStore provides a pluggable interface for storing sensitive data
// such as database passwords.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// EnvPrefix is prepended to a normalized key to form the variable name.
const EnvPrefix = "ETLPLANNER_SECRET_"

// EnvStore reads secrets from process environment variables.
// The key "sales-db" maps to ETLPLANNER_SECRET_SALES_DB.
type EnvStore struct {
	Prefix string
}

// NewEnvStore returns an EnvStore using EnvPrefix.
func NewEnvStore() *EnvStore {
	return &EnvStore{Prefix: EnvPrefix}
}

// VarName returns the environment variable that holds key.
func (e *EnvStore) VarName(key string) string {
	var b strings.Builder
	b.WriteString(e.Prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(e.VarName(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.VarName(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(e.VarName(key))
}

// MemoryStore keeps secrets in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: map[string][]byte{}}
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secrets[key], nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}
