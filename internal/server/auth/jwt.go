// Package auth issues and verifies the HS256 access tokens handed out by
// the identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "metta"

// Claims are the standard registered claims plus the identity fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"uid"`
	DisplayName string `json:"name,omitempty"`
}

// GenerateToken signs an access token for identity valid for validityDuration.
func GenerateToken(identity models.Identity, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseToken verifies tokenString and returns the identity it carries.
// Expired tokens yield common.ErrTokenExpired; any other defect yields an
// error wrapping common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*models.Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return &models.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}
