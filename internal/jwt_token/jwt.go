package jwttoken

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "unionvote/pkg/domain-errors"
	authmw "unionvote/pkg/platform/middleware/auth"
)

// Claims are the member access-token claims issued by the platform's auth
// service. The voting service only verifies them.
type Claims struct {
	MemberID string `json:"member_id"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 member tokens against a shared key.
type Validator struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewValidator(signingKey, issuer, audience string) *Validator {
	return &Validator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Parse validates signature, expiry, issuer and audience.
func (v *Validator) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.MemberID == "" {
		claims.MemberID = claims.Subject
	}
	return claims, nil
}

// ValidateToken satisfies the member auth middleware.
func (v *Validator) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := v.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{MemberID: claims.MemberID, JTI: claims.ID}, nil
}
