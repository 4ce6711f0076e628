package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the expected "iss" of every token this service signs.
const TokenIssuer = "ldapapi"

// Claims are the JWT claims issued after a successful login.
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Group   string `json:"group,omitempty"`
}

// Tokens signs and validates HS256 session tokens.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	company string
	now     func() time.Time
}

// NewTokens creates a token issuer. secret must be at least 32 bytes.
func NewTokens(secret string, ttl time.Duration, company string) (*Tokens, error) {
	if len(secret) < 32 {
		return nil, errors.New("JWT secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, company: company, now: time.Now}, nil
}

// Issue signs a token for username. group is recorded when the login required one.
func (t *Tokens) Issue(username, group string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:    username,
		Company: t.company,
		Group:   group,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and checks signature, method, issuer and expiry.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid token")
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ExtractBearerToken extracts a Bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
