package vonage

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenTTL bounds how long a minted application JWT stays valid. Tokens
// are minted per request, so a short lifetime is enough.
const tokenTTL = 15 * time.Minute

// parsePrivateKey parses the PEM-encoded RSA application key
func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse application private key: %w", err)
	}
	return key, nil
}

// mintToken creates an RS256 application JWT accepted by the provider's
// REST API
func mintToken(appID string, key *rsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"application_id": appID,
		"iat":            now.Unix(),
		"exp":            now.Add(tokenTTL).Unix(),
		"jti":            uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign application token: %w", err)
	}
	return signed, nil
}
