package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionLifetime is the exp - iat window requested from the token endpoint.
const AssertionLifetime = time.Hour

// SignAssertion builds the compact RS256 JWT presented to the token endpoint:
// header {alg, typ} and claims {iss, scope, aud, iat, exp}, each segment
// base64url without padding.
func SignAssertion(sa *ServiceAccount, audience, scope string, issuedAt time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": scope,
		"aud":   audience,
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(AssertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}
