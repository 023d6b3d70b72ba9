// Package auth guards the write routes of the DAO API.
package auth

import (
	"context"
	"crypto/subtle"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ILLUVRSE/agentdao/internal/config"
)

const DebugTokenHeader = "X-Debug-Token"

var ErrUnauthenticated = errors.New("authentication required")

type ctxKey string

const ctxKeyPrincipal ctxKey = "agentdao.principal"

// Principal is the caller identity established for a write request.
type Principal struct {
	Subject string `json:"subject"`
	Method  string `json:"method"`
}

// FromContext returns the Principal set by Middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*Principal)
	return p
}

// Verifier accepts JWT bearer tokens signed by one of the configured public
// keys and carrying the write scope, or the debug token when enabled. With
// neither configured every request is accepted.
type Verifier struct {
	scope           string
	debugToken      string
	allowDebugToken bool
	keys            []interface{}
}

func NewVerifier(cfg config.Config) (*Verifier, error) {
	v := &Verifier{
		scope:           cfg.WriteScope,
		debugToken:      cfg.DebugToken,
		allowDebugToken: cfg.AllowDebugToken && cfg.DebugToken != "",
	}
	if v.scope == "" {
		v.scope = "dao:write"
	}
	if cfg.JWTKeysFile != "" {
		keys, err := loadKeys(cfg.JWTKeysFile)
		if err != nil {
			return nil, fmt.Errorf("load jwt keys: %w", err)
		}
		v.keys = keys
	}
	return v, nil
}

// Open reports whether writes are unauthenticated.
func (v *Verifier) Open() bool {
	return len(v.keys) == 0 && !v.allowDebugToken
}

func loadKeys(path string) ([]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []interface{}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue
			}
			key = cert.PublicKey
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid keys found in %s", path)
	}
	return keys, nil
}

// VerifyRequest authenticates r and returns the caller.
func (v *Verifier) VerifyRequest(r *http.Request) (*Principal, error) {
	if v.Open() {
		return &Principal{Subject: "local", Method: "open"}, nil
	}
	if v.allowDebugToken {
		if tok := r.Header.Get(DebugTokenHeader); tok != "" {
			if subtle.ConstantTimeCompare([]byte(tok), []byte(v.debugToken)) == 1 {
				return &Principal{Subject: "debug", Method: "debug-token"}, nil
			}
			return nil, fmt.Errorf("%w: invalid debug token", ErrUnauthenticated)
		}
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return v.verifyToken(strings.TrimSpace(authz[7:]))
	}
	return nil, ErrUnauthenticated
}

func (v *Verifier) verifyToken(tokenStr string) (*Principal, error) {
	if len(v.keys) == 0 {
		return nil, fmt.Errorf("%w: no token keys configured", ErrUnauthenticated)
	}
	var (
		token *jwt.Token
		err   error
	)
	for _, key := range v.keys {
		key := key
		token, err = jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"RS256", "ES256"}))
		if err == nil && token.Valid {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: token parse error: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	if !hasScope(claims, v.scope) {
		return nil, fmt.Errorf("%w: missing required scope %s", ErrUnauthenticated, v.scope)
	}
	sub, _ := claims.GetSubject()
	return &Principal{Subject: sub, Method: "jwt"}, nil
}

func hasScope(claims jwt.MapClaims, scope string) bool {
	if s, ok := claims["scope"].(string); ok {
		for _, part := range strings.Fields(s) {
			if part == scope {
				return true
			}
		}
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == scope {
				return true
			}
		}
	}
	return false
}

// Middleware rejects unauthenticated requests with 401 and stores the
// Principal in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.VerifyRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "DAO_AUTH"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal, p)))
	})
}
