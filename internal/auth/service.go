package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DefaultCookieName carries the browser's session identifier.
const DefaultCookieName = "session_id"

// Service issues and verifies session cookies. Without a secret the cookie
// value is the bare session id; with one it is "<id>.<hex hmac-sha256(id)>".
type Service struct {
	cookieName string
	secret     []byte
	newID      func() string
}

// NewService constructs the cookie service. An empty secret disables signing.
func NewService(secret string) *Service {
	s := &Service{
		cookieName: DefaultCookieName,
		newID:      uuid.NewString,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// Signed reports whether cookie values carry a signature.
func (s *Service) Signed() bool {
	return len(s.secret) > 0
}

// NewSessionID mints a random session identifier.
func (s *Service) NewSessionID() string {
	return s.newID()
}

// Encode returns the cookie value for id.
func (s *Service) Encode(id string) string {
	if !s.Signed() {
		return id
	}
	return id + "." + s.sign(id)
}

// Decode extracts the session id from a cookie value. ok is false for empty
// values and, when signing is enabled, for missing or wrong signatures.
func (s *Service) Decode(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if !s.Signed() {
		return value, true
	}
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 {
		return "", false
	}
	id, mac := value[:idx], value[idx+1:]
	got, err := hex.DecodeString(mac)
	if err != nil {
		return "", false
	}
	want, _ := hex.DecodeString(s.sign(id))
	if !hmac.Equal(got, want) {
		return "", false
	}
	return id, true
}

func (s *Service) sign(id string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}
