package auth

import (
	"context"
	"net/http"
)

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// StaticAuthenticator returns the same identity for every request. It backs
// AUTH_MODE=dev and AUTH_MODE=disabled.
type StaticAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *StaticAuthenticator {
	return &StaticAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

func NewDisabledAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{
		identity: Identity{Subject: "anonymous", Roles: []string{RoleAdmin}},
	}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// NewAuthenticator builds the authenticator matching cfg.Mode.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	case ModeDev:
		return NewDevAuthenticator(cfg), nil
	default:
		return NewDisabledAuthenticator(), nil
	}
}
