package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials is the L2 API key triplet for signed venue requests.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth signs venue requests with HMAC-SHA256 (L2 auth): the signature covers
// "timestamp + method + pathWithQuery [+ body]" using the base64-decoded API
// secret. Credentials are optional — the public book, trade, and listing
// endpoints need none — so every signing call goes through HasCredentials
// first.
type Auth struct {
	address string // funder wallet address reported in POLY_ADDRESS
	creds   Credentials
	now     func() time.Time
}

// clockSkew is subtracted from the signing timestamp so a locally fast clock
// never produces a timestamp the venue considers to be from the future.
const clockSkew = 5 * time.Second

func NewAuth(address string, creds Credentials) *Auth {
	return &Auth{address: address, creds: creds, now: time.Now}
}

// HasCredentials returns whether the full L2 triplet is configured.
func (a *Auth) HasCredentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// L2Headers generates headers for authenticated endpoints.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(a.now().Add(-clockSkew).Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    a.address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// buildHMAC computes the HMAC-SHA256 signature for L2 auth.
// message = timestamp + method + requestPath [+ body]
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	// Secrets are issued URL-safe base64 but show up in configs in every
	// variant, so try the common encodings in order.
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
