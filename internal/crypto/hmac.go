package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names used on the oracle callback channel.
const (
	HeaderOracleAddress   = "DORSIA_ORACLE_ADDRESS"
	HeaderOracleTimestamp = "DORSIA_ORACLE_TIMESTAMP"
	HeaderOracleSignature = "DORSIA_ORACLE_SIGNATURE"
)

// maxCallbackSkew bounds how stale a signed callback timestamp may be.
const maxCallbackSkew = 5 * time.Minute

// OracleAuth holds the shared secret for HMAC-signed oracle callbacks. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64, alongside the oracle's claimed address; the service layer still
// checks that address against the registered oracle.
type OracleAuth struct {
	Address string // oracle address, hex
	Secret  string
}

// Headers returns the HTTP headers for a signed oracle callback request.
func (a *OracleAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *OracleAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(a.Secret), ts+method+path+body)

	return map[string]string{
		HeaderOracleAddress:   a.Address,
		HeaderOracleTimestamp: ts,
		HeaderOracleSignature: sig,
	}
}

// Verify checks a callback signature against the shared secret and rejects
// timestamps outside the allowed skew window.
func (a *OracleAuth) Verify(method, path, body, timestamp, signature string, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: invalid callback timestamp %q: %w", timestamp, err)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > maxCallbackSkew || age < -maxCallbackSkew {
		return fmt.Errorf("crypto: callback timestamp outside allowed skew")
	}

	want := hmacSHA256Base64([]byte(a.Secret), timestamp+method+path+body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto: callback signature mismatch")
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (a *OracleAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("OracleAuth{address=%s, secret=%s}", a.Address, redact(a.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
