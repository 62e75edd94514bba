// Package auth provides feed credentials and request signing.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Header names sent on the feed handshake.
const (
	HeaderUser      = "X-Feed-User"
	HeaderTimestamp = "X-Feed-Timestamp"
	HeaderSignature = "X-Feed-Signature"
)

// Credentials identify this service to the streaming feed.
type Credentials struct {
	UserGroup string // Account group assigned by the provider (e.g. "acme.prod")
	Password  string // Shared secret for signing

	now func() time.Time
}

// LoadCredentials builds credentials from a user group and either an inline
// password or a path to a file holding it. The file wins when both are set.
func LoadCredentials(userGroup, password, passwordFile string) (*Credentials, error) {
	if userGroup == "" {
		return nil, fmt.Errorf("user group is required")
	}

	if passwordFile != "" {
		p, err := LoadPassword(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("load password: %w", err)
		}
		password = p
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	return &Credentials{
		UserGroup: userGroup,
		Password:  password,
	}, nil
}

// LoadPassword reads a secret from a file, trimming surrounding whitespace.
func LoadPassword(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}

	password := strings.TrimSpace(string(data))
	if password == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return password, nil
}

// SignRequest generates authentication headers for a feed request.
// Message format: timestamp_ms + method + path, HMAC-SHA256 keyed by the password.
func (c *Credentials) SignRequest(method, path string) (headers map[string]string, err error) {
	if c.Password == "" {
		return nil, fmt.Errorf("sign request: empty password")
	}

	timestampMs := c.clock().UnixMilli()

	return map[string]string{
		HeaderUser:      c.UserGroup,
		HeaderTimestamp: fmt.Sprintf("%d", timestampMs),
		HeaderSignature: c.signature(timestampMs, method, path),
	}, nil
}

// SignWebSocket generates the handshake headers for a websocket endpoint path.
func (c *Credentials) SignWebSocket(path string) (http.Header, error) {
	if path == "" {
		path = "/"
	}
	signed, err := c.SignRequest(http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, v := range signed {
		header.Set(k, v)
	}
	return header, nil
}

// Verify checks a signature produced by SignRequest.
func (c *Credentials) Verify(timestampMs int64, method, path, signature string) bool {
	want := c.signature(timestampMs, method, path)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (c *Credentials) signature(timestampMs int64, method, path string) string {
	mac := hmac.New(sha256.New, []byte(c.Password))
	fmt.Fprintf(mac, "%d%s%s", timestampMs, method, path)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// BearerHeaders returns headers for token-authenticated REST providers.
func BearerHeaders(token string) map[string]string {
	headers := map[string]string{"Accept": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}
