package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim from an access token without verifying the
// signature. Verification is the backend's job; the client only needs the
// deadline to know when a stored session is stale.
func TokenExpiry(accessToken string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token missing exp claim")
	}
	return exp.Time, nil
}
