package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fenggwsx/chatrelay/internal/config"
)

// ErrSubjectMismatch is returned when a token does not belong to the claimed identity.
var ErrSubjectMismatch = errors.New("token subject mismatch")

// Claims represents JWT payload for authenticated users.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

// NewToken generates a signed JWT for the provided subject.
func NewToken(cfg config.JWTConfig, userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken validates the provided token string and extracts claims.
func ParseToken(cfg config.JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Verifier checks socket authenticate requests against signed tokens.
type Verifier struct {
	cfg config.JWTConfig
}

// NewVerifier returns a Verifier for tokens issued with cfg.
func NewVerifier(cfg config.JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyIdentity returns the user id carried by token. A non-empty claimed id
// must match the token subject.
func (v *Verifier) VerifyIdentity(token, claimedUserID string) (string, error) {
	claims, err := ParseToken(v.cfg, token)
	if err != nil {
		return "", err
	}
	if claimedUserID != "" && claimedUserID != claims.UserID {
		return "", ErrSubjectMismatch
	}
	return claims.UserID, nil
}
