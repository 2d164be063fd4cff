package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// ConfigFromEnv reads SECRET_KEY and TOKEN_TTL (default 7 days).
func ConfigFromEnv() Config {
	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		secret = "changeme"
	}
	return Config{
		Secret: secret,
		TTL:    utilities.GetEnvAsDuration("TOKEN_TTL", 7*24*time.Hour),
		Issuer: utilities.GetEnvAsString("TOKEN_ISSUER", "pitchfork-reminder"),
	}
}

// TokenService issues and verifies HS256 access tokens whose subject is the
// numeric user id.
type TokenService struct {
	key    []byte
	ttl    time.Duration
	issuer string
	clock  clockwork.Clock
}

func NewTokenService(cfg Config, clock clockwork.Clock) *TokenService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &TokenService{key: []byte(cfg.Secret), ttl: cfg.TTL, issuer: cfg.Issuer, clock: clock}
}

// Issue signs a token for userID and returns it with its lifetime.
func (s *TokenService) Issue(userID int64) (string, time.Duration, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", 0, err
	}
	return signed, s.ttl, nil
}

// Parse verifies token and returns the user id from its subject.
func (s *TokenService) Parse(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return uid, nil
}
