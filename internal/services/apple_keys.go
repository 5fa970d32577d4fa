package services

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"subscription-hub/pkg/logging"
)

// SigningKey 一把缓存的 Apple 公钥
type SigningKey struct {
	Kid       string
	Kty       string // "RSA" 或 "EC"
	Alg       string // JWK 里的算法提示，可能为空
	PublicKey crypto.PublicKey
}

// jwk is one entry of the published JWK set
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// KeyCache fetches and caches Apple's public signing keys.
// Safe for concurrent use; refresh is at-least-once under concurrent misses
// (duplicate refetches are wasteful but harmless)
type KeyCache struct {
	keysURL    string
	httpClient *http.Client
	maxRetries int

	mutex sync.RWMutex
	keys  map[string]*SigningKey
}

// NewKeyCache creates a new key cache
func NewKeyCache(keysURL string, maxRetries int, timeout time.Duration) *KeyCache {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KeyCache{
		keysURL:    keysURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		keys:       make(map[string]*SigningKey),
	}
}

// GetKeys returns the cached keys, fetching them on first use
func (kc *KeyCache) GetKeys() (map[string]*SigningKey, error) {
	kc.mutex.RLock()
	if len(kc.keys) > 0 {
		keys := kc.snapshotLocked()
		kc.mutex.RUnlock()
		return keys, nil
	}
	kc.mutex.RUnlock()

	return kc.Refresh()
}

// GetKey looks up a key by kid. On a miss it forces exactly one refresh
// before giving up, so a key rotation on Apple's side does not cause
// permanent verification failure
func (kc *KeyCache) GetKey(kid string) (*SigningKey, error) {
	keys, err := kc.GetKeys()
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}

	logging.Warnf("Key ID %s not found in cached keys, forcing refresh", kid)
	keys, err = kc.Refresh()
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key ID %s not found in Apple's public keys", kid)
}

// Refresh discards the cache and refetches the key set
func (kc *KeyCache) Refresh() (map[string]*SigningKey, error) {
	fetched, err := kc.fetchKeys()
	if err != nil {
		return nil, err
	}

	kc.mutex.Lock()
	kc.keys = fetched
	keys := kc.snapshotLocked()
	kc.mutex.Unlock()

	logging.Infof("Fetched %d public keys from %s", len(keys), kc.keysURL)
	return keys, nil
}

// snapshotLocked copies the key map; callers must hold at least a read lock
func (kc *KeyCache) snapshotLocked() map[string]*SigningKey {
	snapshot := make(map[string]*SigningKey, len(kc.keys))
	for kid, key := range kc.keys {
		snapshot[kid] = key
	}
	return snapshot
}

// SortedKids returns the cached key IDs in deterministic order,
// for the try-every-key fallback when a token carries no kid
func (kc *KeyCache) SortedKids(keys map[string]*SigningKey) []string {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}

// fetchKeys fetches the JWK set with bounded retries and exponential backoff
// (base 1s, cap 10s)
func (kc *KeyCache) fetchKeys() (map[string]*SigningKey, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= kc.maxRetries; attempt++ {
		keys, err := kc.fetchKeysOnce()
		if err == nil {
			return keys, nil
		}
		lastErr = err
		logging.Warnf("Key fetch attempt %d/%d failed: %v", attempt, kc.maxRetries, err)

		if attempt < kc.maxRetries {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, lastErr)
}

// fetchKeysOnce performs a single fetch of the JWK set
func (kc *KeyCache) fetchKeysOnce() (map[string]*SigningKey, error) {
	resp, err := kc.httpClient.Get(kc.keysURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key endpoint returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}

	keys := make(map[string]*SigningKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" {
			continue
		}
		publicKey, err := parseJWK(k)
		if err != nil {
			// 一把坏钥匙不应让整个钥匙串不可用
			logging.Warnf("Skipping unparseable key %s: %v", k.Kid, err)
			continue
		}
		keys[k.Kid] = &SigningKey{
			Kid:       k.Kid,
			Kty:       k.Kty,
			Alg:       k.Alg,
			PublicKey: publicKey,
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("key set contained no usable keys")
	}
	return keys, nil
}

// parseJWK converts a JWK entry into a crypto.PublicKey
func parseJWK(k jwk) (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := decodeBase64URLBigInt(k.N)
		if err != nil {
			return nil, fmt.Errorf("invalid modulus: %w", err)
		}
		e, err := decodeBase64URLBigInt(k.E)
		if err != nil {
			return nil, fmt.Errorf("invalid exponent: %w", err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		curve, err := curveByName(k.Crv)
		if err != nil {
			return nil, err
		}
		x, err := decodeBase64URLBigInt(k.X)
		if err != nil {
			return nil, fmt.Errorf("invalid x coordinate: %w", err)
		}
		y, err := decodeBase64URLBigInt(k.Y)
		if err != nil {
			return nil, fmt.Errorf("invalid y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func curveByName(crv string) (elliptic.Curve, error) {
	switch crv {
	case "P-256", "":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
}

func decodeBase64URLBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
