package auth

import (
	"context"
	"fmt"
	"ms-roster/internal/config"
	"ms-roster/internal/logger"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const operatorIDKey contextKey = "operator_id"

// Verifier turns a bearer token into the operator's subject.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	cfg := &oidc.Config{ClientID: clientID}
	if clientID == "" {
		cfg.SkipClientIDCheck = true
	}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}
	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername, nil
	}
	return claims.Sub, nil
}

// NewVerifier picks OIDC when an issuer is configured, HS256 when a shared secret is, and nil otherwise.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	switch {
	case cfg.OIDCIssuer != "":
		return NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	case cfg.JWTSecret != "":
		return NewHMACVerifier(cfg.JWTSecret), nil
	}
	return nil, nil
}

// Middleware requires a valid bearer token and stores the operator id in the request context.
// A nil verifier lets every request through anonymously.
func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			operator, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s: %v", r.RemoteAddr, err))
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
		})
	}
}

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorIDKey, operator)
}

// OperatorID returns the authenticated operator, or "" for anonymous requests.
func OperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(operatorIDKey).(string); ok {
		return id
	}
	return ""
}
