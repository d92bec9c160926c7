package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/odyssey-erp/bizledger/internal/shared"
)

const tokenIssuer = "bizledger"

// Claims is the bearer token payload.
type Claims struct {
	CompanyID int64 `json:"cid"`
	jwt.StandardClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the principal and its expiry.
func (t *TokenIssuer) Issue(p shared.Principal) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		CompanyID: p.CompanyID,
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: expires.Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies the token and returns the principal it carries.
func (t *TokenIssuer) Parse(raw string) (shared.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return shared.Principal{}, shared.ErrInvalidToken
	}
	if claims.Issuer != tokenIssuer {
		return shared.Principal{}, shared.ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return shared.Principal{}, shared.ErrInvalidToken
	}
	p := shared.Principal{UserID: userID, CompanyID: claims.CompanyID}
	if !p.Valid() {
		return shared.Principal{}, shared.ErrInvalidToken
	}
	return p, nil
}
