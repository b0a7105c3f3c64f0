// Package apikey generates API keys. The raw key is returned once; only its bcrypt
// hash and lookup prefix are stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/demandcast/pkg/models"
)

const (
	// Marker starts every raw key.
	Marker = "dc_"
	// PrefixLen is the number of leading characters stored in clear for lookup.
	PrefixLen = len(Marker) + 8

	secretBytes = 24
)

var ErrInvalidScope = errors.New("invalid scope")

var validScopes = map[string]bool{
	models.ScopeForecast: true,
	models.ScopeRead:     true,
	models.ScopeAdmin:    true,
}

// Generate creates a key with the given name and scopes. Scopes default to read.
func Generate(name string, scopes []string) (*models.APIKey, string, error) {
	scopes, err := NormalizeScopes(scopes)
	if err != nil {
		return nil, "", err
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generating key: %w", err)
	}
	raw := Marker + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing key: %w", err)
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}

// NormalizeScopes trims, lower-cases and de-duplicates scopes, rejecting unknown ones.
func NormalizeScopes(scopes []string) ([]string, error) {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		if !validScopes[s] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, models.ScopeRead)
	}
	return out, nil
}

// Verify reports whether raw matches the stored hash of key.
func Verify(key *models.APIKey, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil
}
