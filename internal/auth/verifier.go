package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"livegrade/pkg/types"
)

// Claims carries the connection identity inside the bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Verifier validates the HMAC-signed bearer tokens presented in the
// authenticate handshake. Token issuance lives with the credential
// service; this side only verifies and extracts identity. The identity
// is established once at connect time and trusted for the lifetime of
// the session.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier for the shared HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the identity it
// carries. All failures are authentication errors: bad signature,
// wrong algorithm, expired token, or identity fields that fail
// validation.
func (v *Verifier) Verify(token string) (int64, types.Role, error) {
	if token == "" {
		return 0, "", fmt.Errorf("%w: token required", types.ErrAuth)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", types.ErrAuth, err)
	}
	if !parsed.Valid {
		return 0, "", fmt.Errorf("%w: token invalid", types.ErrAuth)
	}

	role := types.Role(claims.Role)
	if err := types.ValidateIdentity(claims.UserID, role); err != nil {
		return 0, "", err
	}

	return claims.UserID, role, nil
}
