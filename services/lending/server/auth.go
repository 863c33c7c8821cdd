package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthConfig lists the credentials accepted by the API. Flow routes require
// an API token or an allowed client certificate; admin routes require an
// admin token.
type AuthConfig struct {
	APITokens        []string
	AdminTokens      []string
	AllowedClientCNs []string
}

type principalKey struct{}

// principal identifies the authenticated caller for rate limiting and logs.
type principal struct {
	ID    string
	Admin bool
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

type authenticator struct {
	tokens      []string
	adminTokens []string
	commonNames map[string]struct{}
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	commonNames := make(map[string]struct{})
	for _, name := range cfg.AllowedClientCNs {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			commonNames[trimmed] = struct{}{}
		}
	}
	return &authenticator{
		tokens:      trimTokens(cfg.APITokens),
		adminTokens: trimTokens(cfg.AdminTokens),
		commonNames: commonNames,
	}
}

// requireClient admits callers presenting an API token, an admin token or an
// allowed client certificate.
func (a *authenticator) requireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="peerlend"`)
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// requireAdmin admits admin token holders only.
func (a *authenticator) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="peerlend"`)
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		if !p.Admin {
			writeError(w, r, http.StatusForbidden, "forbidden", "admin credentials required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (a *authenticator) authenticate(r *http.Request) (principal, bool) {
	if a == nil {
		return principal{}, false
	}
	for _, token := range presentedTokens(r) {
		if matchToken(a.adminTokens, token) {
			return principal{ID: tokenID(token), Admin: true}, true
		}
		if matchToken(a.tokens, token) {
			return principal{ID: tokenID(token)}, true
		}
	}
	if name, ok := a.clientCommonName(r); ok {
		return principal{ID: "cn:" + name}, true
	}
	return principal{}, false
}

func (a *authenticator) clientCommonName(r *http.Request) (string, bool) {
	if len(a.commonNames) == 0 || r.TLS == nil {
		return "", false
	}
	for _, chain := range r.TLS.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		name := strings.TrimSpace(chain[0].Subject.CommonName)
		if _, ok := a.commonNames[name]; ok {
			return name, true
		}
	}
	return "", false
}

func presentedTokens(r *http.Request) []string {
	var tokens []string
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		tokens = append(tokens, token)
	}
	if token := strings.TrimSpace(r.Header.Get("X-API-Token")); token != "" {
		tokens = append(tokens, token)
	}
	return tokens
}

func matchToken(allowed []string, presented string) bool {
	for _, token := range allowed {
		if subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

// tokenID is a log-safe identifier for a token.
func tokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:6])
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func trimTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
