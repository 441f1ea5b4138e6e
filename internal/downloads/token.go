package downloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingMethod = jwt.SigningMethodHS256

// Token is a signed download capability.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Grant is what a valid token entitles the bearer to.
type Grant struct {
	OrderID   string
	ProductID string
}

type tokenClaims struct {
	OrderID   string `json:"oid"`
	ProductID string `json:"pid"`
	jwt.RegisteredClaims
}

func mint(secret []byte, issuer string, grant Grant, now time.Time, ttl time.Duration) (Token, error) {
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := tokenClaims{
		OrderID:   grant.OrderID,
		ProductID: grant.ProductID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing download token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt.Time.UTC()}, nil
}

// parse verifies signature, issuer and expiry. It does not consult the order store.
func parse(secret []byte, issuer, value string, now func() time.Time) (*tokenClaims, error) {
	claims := &tokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	_, err := parser.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newTokenError(KindExpired, claims.OrderID, err)
		}
		return nil, newTokenError(KindInvalidSignature, "", err)
	}
	if claims.OrderID == "" || claims.ProductID == "" {
		return nil, newTokenError(KindInvalidSignature, claims.OrderID, errors.New("token missing order or product"))
	}
	return claims, nil
}
