package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
)

// PlayerClaims is the payload of a signed player token.
type PlayerClaims struct {
	Currency string `json:"cur"`
	jwt.RegisteredClaims
}

// JWTSource validates HS256 player tokens issued by Issue.
type JWTSource struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewJWTSource returns a JWTSource. An empty issuer disables the issuer check.
func NewJWTSource(signingKey []byte, issuer string, now func() time.Time) (*JWTSource, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("jwt signing key is required")
	}
	if now == nil {
		now = time.Now
	}
	return &JWTSource{signingKey: signingKey, issuer: issuer, now: now}, nil
}

func (source *JWTSource) Lookup(_ context.Context, token string) (Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(source.now),
	}
	if source.issuer != "" {
		options = append(options, jwt.WithIssuer(source.issuer))
	}
	claims := &PlayerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return source.signingKey, nil
	}, options...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ledger.ErrInvalidToken, err)
	}
	userID, err := ledger.NewUserID(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ledger.ErrInvalidToken, err)
	}
	currency, err := ledger.NewCurrency(claims.Currency)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ledger.ErrInvalidToken, err)
	}
	return Identity{UserID: userID, Currency: currency, ExpiresAt: claims.ExpiresAt.Time.UTC()}, nil
}

// Issue signs a player token valid for ttl.
func (source *JWTSource) Issue(userID ledger.UserID, currency ledger.Currency, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	now := source.now().UTC()
	claims := PlayerClaims{
		Currency: currency.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    source.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(source.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
