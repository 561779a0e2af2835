package shared

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token for scripted requests. It wins over the form field.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies CSRF tokens bound to a session's workspace.
// A token is a random nonce plus an HMAC of the workspace ID and that nonce.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, issuing one on first use.
func (m *CSRFManager) EnsureToken(sess *Session) (string, error) {
	if sess == nil {
		return "", ErrSessionMissing
	}
	if sess.csrfToken != "" {
		return sess.csrfToken, nil
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(nonce)
	sess.csrfToken = encoded + "." + m.mac(sess.WorkspaceID(), encoded)
	sess.dirty = true
	return sess.csrfToken, nil
}

// VerifyToken checks token against the session's token and its workspace.
func (m *CSRFManager) VerifyToken(sess *Session, token string) error {
	if sess == nil || sess.csrfToken == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(sess.csrfToken), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(m.mac(sess.WorkspaceID(), nonce))) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// RequestToken returns the token carried by r: the X-CSRF-Token header, or
// the csrf_token field of an already parsed form.
func RequestToken(r *http.Request) string {
	if token := r.Header.Get(CSRFHeader); token != "" {
		return token
	}
	return r.PostForm.Get(CSRFFormField)
}

func (m *CSRFManager) mac(workspaceID, nonce string) string {
	h := hmac.New(sha256.New, m.secret)
	_, _ = h.Write([]byte(workspaceID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
