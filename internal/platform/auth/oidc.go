package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier is satisfied by *oidc.IDTokenVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator validates bearer tokens issued by the configured provider.
// Browser login flows are handled by the identity provider, not by this service.
type OIDCAuthenticator struct {
	cfg      Config
	verifier TokenVerifier
	claims   func(token *oidc.IDToken) (map[string]any, error)
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(cfg, provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}))
}

func NewOIDCAuthenticatorWithVerifier(cfg Config, verifier TokenVerifier) (*OIDCAuthenticator, error) {
	if verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	return &OIDCAuthenticator{
		cfg:      cfg,
		verifier: verifier,
		claims: func(token *oidc.IDToken) (map[string]any, error) {
			var claims map[string]any
			if err := token.Claims(&claims); err != nil {
				return nil, err
			}
			return claims, nil
		},
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	claims, err := a.claims(idToken)
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(claims, a.cfg), nil
}

func identityFromClaims(claims map[string]any, cfg Config) Identity {
	subject, _ := claims["sub"].(string)
	return Identity{
		Subject: subject,
		Email:   extractStringClaim(claims, cfg.EmailClaim),
		Roles:   extractRolesClaim(claims, cfg.RolesClaim),
	}
}

func tokenFromHeader(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func extractStringClaim(claims map[string]any, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func extractRolesClaim(claims map[string]any, key string) []string {
	v, ok := claims[key]
	if !ok {
		return nil
	}
	switch roles := v.(type) {
	case string:
		return parseCSV(roles)
	case []any:
		out := make([]string, 0, len(roles))
		for _, role := range roles {
			if s, ok := role.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.ToLower(strings.TrimSpace(s)))
			}
		}
		return out
	case []string:
		return parseCSV(strings.Join(roles, ","))
	default:
		return nil
	}
}
