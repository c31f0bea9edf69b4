// captcha.go -- Optional bot check on signup and password reset requests.
package auth

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/captcha"
)

// CaptchaVerifier checks a client-supplied challenge token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// clientIP strips the port RemoteAddr carries when RealIP did not rewrite it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// passCaptcha reports whether the request may proceed. Always true when no verifier is set.
// Answers 400 on a rejected token and 500 when the verifier is unreachable.
func (h *Handler) passCaptcha(w http.ResponseWriter, r *http.Request, token string) bool {
	if h.Captcha == nil {
		return true
	}
	err := h.Captcha.Verify(r.Context(), token, clientIP(r))
	switch {
	case err == nil:
		return true
	case errors.Is(err, captcha.ErrRejected):
		logInfo(r, "captcha rejected", "error", err)
		BadRequest(w, "captcha verification failed")
	default:
		InternalServerError(w, r, err)
	}
	return false
}
