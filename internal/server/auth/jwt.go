// Package auth issues and verifies the HS256 access tokens accepted by the
// gateway transports.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the caller identity next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string
	GroupID string `json:",omitempty"`
	Admin   bool   `json:",omitempty"`
}

// Identity is the authenticated caller.
type Identity struct {
	UserID  string
	GroupID string
	Admin   bool
}

func GenerateToken(id Identity, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
			Subject:   id.UserID,
		},
		UserID:  id.UserID,
		GroupID: id.GroupID,
		Admin:   id.Admin,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns the identity it carries.
// Expired tokens yield common.ErrTokenExpired, anything else that fails
// verification yields common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, common.ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return Identity{}, common.ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, GroupID: claims.GroupID, Admin: claims.Admin}, nil
}

// Scope resolves a bill_to value against the identity. An empty value bills
// the user.
func (id Identity) Scope(billTo string) (models.Scope, error) {
	switch models.ScopeKind(billTo) {
	case "", models.ScopeUser:
		return models.UserScope(id.UserID), nil
	case models.ScopeGroup:
		if id.GroupID == "" {
			return models.Scope{}, fmt.Errorf("%w: caller has no group", common.ErrValidation)
		}
		return models.GroupScope(id.GroupID), nil
	default:
		return models.Scope{}, fmt.Errorf("%w: unknown bill_to %q", common.ErrValidation, billTo)
	}
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the transport middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
