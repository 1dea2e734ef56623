// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wasteroute/internal/model"
)

// devSecret signs sessions when AUTH_MODE=dev runs without SESSION_SECRET.
const devSecret = "wasteroute-dev-session-secret"

var ErrInvalidToken = errors.New("invalid session token")

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Login  string
	Role   model.Role
}

func (p Principal) IsAdmin() bool  { return p.Role == model.RoleAdmin }
func (p Principal) IsDriver() bool { return p.Role == model.RoleDriver }
func (p Principal) IsKiosk() bool  { return p.Role == model.RoleKiosk }

// Claims are the signed contents of a session token. The registered ID is
// the revocation key.
type Claims struct {
	Login string     `json:"login"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the caller identity.
func (c Claims) Principal() (Principal, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: id, Login: c.Login, Role: c.Role}, nil
}

// Sessions signs HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	Now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration) *Sessions {
	if secret == "" {
		secret = devSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, Now: time.Now}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue signs a fresh token for the user.
func (s *Sessions) Issue(u model.User) (string, Claims, error) {
	now := s.Now()
	claims := Claims{
		Login: u.Login,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return tok, claims, nil
}

// Parse verifies signature and expiry.
func (s *Sessions) Parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.Now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

var bcryptCost = bcrypt.DefaultCost

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
