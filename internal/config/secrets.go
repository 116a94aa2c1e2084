package config

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "pplxhelper"
	keyringUser    = "openrouter"
)

// keyringGet is swapped in tests; the real keyring needs a session bus.
var keyringGet = keyring.Get

// The keyring answer is cached; a lookup can cost a D-Bus round trip.
var keyCache struct {
	mu     sync.Mutex
	loaded bool
	key    string
}

func cachedKeyringKey() string {
	keyCache.mu.Lock()
	defer keyCache.mu.Unlock()
	if !keyCache.loaded {
		k, err := keyringGet(keyringService, keyringUser)
		if err != nil {
			k = ""
		}
		keyCache.key = strings.TrimSpace(k)
		keyCache.loaded = true
	}
	return keyCache.key
}

// InvalidateKeyCache forces the next ResolveAPIKey to query the keyring.
func InvalidateKeyCache() {
	keyCache.mu.Lock()
	keyCache.loaded = false
	keyCache.key = ""
	keyCache.mu.Unlock()
}

// ResolveAPIKey returns the OpenRouter key from the options record, the
// OPENROUTER_API_KEY variable or the OS keyring, in that order.
func ResolveAPIKey(opts Options) string {
	if k := strings.TrimSpace(opts.OpenRouterAPIKey); k != "" {
		return k
	}
	if k := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); k != "" {
		return k
	}
	return cachedKeyringKey()
}

func StoreAPIKey(key string) error {
	defer InvalidateKeyCache()
	return keyring.Set(keyringService, keyringUser, strings.TrimSpace(key))
}

func DeleteAPIKey() error {
	defer InvalidateKeyCache()
	err := keyring.Delete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
