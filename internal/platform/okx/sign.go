// Package okx implements request signing and the REST/WebSocket wire types
// for the OKX v5 API.
package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

// restTimestampLayout is the ISO-8601 millisecond timestamp the REST API
// expects. The WebSocket login uses epoch seconds instead — the two
// canonicalizations are deliberately distinct per the venue's signing rules.
const restTimestampLayout = "2006-01-02T15:04:05.000Z"

// SignedHeaders returns the authentication headers for a REST request.
// The signature is HMAC-SHA256(secret, timestamp+METHOD+path+body) encoded as
// base64, with an ISO-8601 millisecond timestamp.
func SignedHeaders(cred domain.Credential, method, path, body string) (map[string]string, error) {
	return SignedHeadersAt(cred, method, path, body, time.Now())
}

// SignedHeadersAt is like SignedHeaders but lets the caller supply the
// timestamp (useful for deterministic testing).
func SignedHeadersAt(cred domain.Credential, method, path, body string, at time.Time) (map[string]string, error) {
	if !cred.Complete() {
		return nil, fmt.Errorf("okx: credential is missing required fields: %w", domain.ErrConfiguration)
	}

	ts := at.UTC().Format(restTimestampLayout)
	message := ts + strings.ToUpper(method) + path + body
	sig := hmacSHA256Base64([]byte(cred.APISecret), message)

	return map[string]string{
		"OK-ACCESS-KEY":        cred.APIKey,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": cred.Passphrase,
	}, nil
}

// LoginArgs is the args entry of the private WebSocket login frame.
type LoginArgs struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// LoginArgsFor builds the WebSocket login payload. The prehash is
// epoch-second timestamp + "GET" + "/users/self/verify".
func LoginArgsFor(cred domain.Credential) (LoginArgs, error) {
	return LoginArgsAt(cred, time.Now())
}

// LoginArgsAt is like LoginArgsFor with a caller-supplied timestamp.
func LoginArgsAt(cred domain.Credential, at time.Time) (LoginArgs, error) {
	if !cred.Complete() {
		return LoginArgs{}, fmt.Errorf("okx: credential is missing required fields: %w", domain.ErrConfiguration)
	}

	ts := strconv.FormatInt(at.Unix(), 10)
	sig := hmacSHA256Base64([]byte(cred.APISecret), ts+"GET"+"/users/self/verify")

	return LoginArgs{
		APIKey:     cred.APIKey,
		Passphrase: cred.Passphrase,
		Timestamp:  ts,
		Sign:       sig,
	}, nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
