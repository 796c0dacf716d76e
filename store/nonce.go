package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// nonceSize is the number of random bytes in a nonce (128 bits).
const nonceSize = 16

// GenerateNonce returns 16 bytes from crypto/rand, hex encoded.
func GenerateNonce() (string, error) {
	var b [nonceSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// NonceRecord is what a Store keeps for an issued nonce.
type NonceRecord struct {
	ClientID  string    `json:"client_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewNonceRecord builds a record for a nonce issued at now.
func NewNonceRecord(clientID, email string, now time.Time, ttl time.Duration) NonceRecord {
	return NonceRecord{
		ClientID:  clientID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Valid reports whether the record may be consumed by (clientID, email) at now.
func (r NonceRecord) Valid(clientID, email string, now time.Time) bool {
	if !now.Before(r.ExpiresAt) {
		return false
	}
	idOK := subtle.ConstantTimeCompare([]byte(r.ClientID), []byte(clientID)) == 1
	emailOK := subtle.ConstantTimeCompare([]byte(r.Email), []byte(email)) == 1
	return idOK && emailOK
}

// CachedDocument is a fetched document together with its expiry.
type CachedDocument struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the document must be refetched at now.
func (d *CachedDocument) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}
