package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the RBAC currency passed to the coordinator once a
// connection has authenticated, whether it arrived via a JWT or an
// API key. It normalizes both paths to the same shape.
type Principal struct {
	UserID      string
	Email       string
	Permissions DocumentPermissions
}

// CanRead reports whether the principal may read documentID.
func (p *Principal) CanRead(documentID string) bool {
	if p == nil {
		return false
	}
	if p.Permissions.IsAdmin {
		return true
	}
	for _, id := range p.Permissions.CanRead {
		if id == "*" || id == documentID {
			return true
		}
	}
	return false
}

// CanWrite reports whether the principal may write documentID.
func (p *Principal) CanWrite(documentID string) bool {
	if p == nil {
		return false
	}
	if p.Permissions.IsAdmin {
		return true
	}
	for _, id := range p.Permissions.CanWrite {
		if id == "*" || id == documentID {
			return true
		}
	}
	return false
}

// PrincipalFromToken converts a verified JWT payload into a Principal.
func PrincipalFromToken(payload *TokenPayload) *Principal {
	if payload == nil {
		return nil
	}
	return &Principal{
		UserID:      payload.UserID,
		Email:       payload.Email,
		Permissions: payload.Permissions,
	}
}

// apiKeyUserID is the synthetic user ID attached to a connection that
// authenticated with an allow-listed API key rather than a JWT.
const apiKeyUserID = "api-key-user"

// ErrUnknownAPIKey is returned when a presented key is not in the
// configured allow list.
var ErrUnknownAPIKey = errors.New("auth: api key not recognized")

// ValidateAPIKey checks key against allowList and, on success,
// synthesizes an admin Principal. API keys carry no per-document
// permission grants, so a recognized key is always full access.
func ValidateAPIKey(key string, allowList []string) (*Principal, error) {
	if key == "" {
		return nil, ErrUnknownAPIKey
	}
	for _, candidate := range allowList {
		if candidate == key {
			return &Principal{
				UserID:      apiKeyUserID,
				Permissions: CreateAdminPermissions(),
			}, nil
		}
	}
	return nil, ErrUnknownAPIKey
}

// VerifyOptions constrains claim validation beyond signature and
// expiry: an issuer and/or audience that must match exactly when set.
type VerifyOptions struct {
	Issuer   string
	Audience string
}

// VerifyTokenWithOptions behaves like VerifyToken but additionally
// rejects tokens whose iss/aud claims don't match opts. A zero-value
// opts field is not checked, matching jwt/v5's WithIssuer/WithAudience
// parser option semantics.
func VerifyTokenWithOptions(tokenString, secret string, opts VerifyOptions) (*TokenPayload, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}

	parserOpts := []jwt.ParserOption{}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenPayload{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return []byte(secret), nil
	}, parserOpts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenPayload)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

var errUnexpectedSigningMethod = errors.New("auth: unexpected signing method")

// GenerateAccessTokenWithClaims is GenerateAccessToken plus issuer and
// audience claims, for servers that configure jwtIssuer/jwtAudience.
func GenerateAccessTokenWithClaims(userID, email string, permissions DocumentPermissions, secret string, expiresIn time.Duration, issuer, audience string) (string, error) {
	if len(secret) < 32 {
		return "", ErrShortSecret
	}

	now := time.Now()
	claims := &TokenPayload{
		UserID:      userID,
		Email:       email,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
