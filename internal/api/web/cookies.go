package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// SessionCookie is the name of the signed session cookie.
const SessionCookie = "tastedeck_session"

const (
	sessionCookie = SessionCookie
	stateCookie   = "tastedeck_oauth_state"

	stateTTL = 10 * time.Minute
)

// signer appends and checks an HMAC-SHA256 signature in the form
// value|signature.
type signer struct {
	key []byte
}

func (s signer) sign(value string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	return value + "|" + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s signer) verify(signed string) (string, bool) {
	i := strings.LastIndexByte(signed, '|')
	if i <= 0 {
		return "", false
	}
	value, encoded := signed[:i], signed[i+1:]
	sig, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return "", false
	}
	return value, true
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    s.signer.sign(value),
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// readCookie returns the verified value of a signed cookie.
func (s *Server) readCookie(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return s.signer.verify(c.Value)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate state")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
