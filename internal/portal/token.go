package portal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Audience scopes portal tokens so they cannot be replayed elsewhere.
const Audience = "quote-portal"

// ErrInvalidToken is returned for malformed, expired or foreign tokens.
var ErrInvalidToken = errors.New("portal: invalid token")

// TokenIssuer signs and verifies HS256 share links for a single quote.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret    string
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewTokenIssuer validates cfg and builds an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(strings.TrimSpace(cfg.Secret)) < 16 {
		return nil, errors.New("portal: secret must be at least 16 characters")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 14 * 24 * time.Hour
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		now:       cfg.Now,
	}, nil
}

// Issue returns a signed token whose subject is the quote id.
func (i *TokenIssuer) Issue(quoteID uuid.UUID) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	token, err := jwt.NewBuilder().
		Subject(quoteID.String()).
		Issuer(i.issuer).
		Audience([]string{Audience}).
		IssuedAt(now).
		NotBefore(now.Add(-i.clockSkew)).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies token and returns the quote id it grants access to.
func (i *TokenIssuer) Parse(token string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return uuid.Nil, ErrInvalidToken
	}
	if err := requireHS256(trimmed); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(jwa.HS256, i.secret), jwt.WithValidate(false))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(i.now)),
		jwt.WithAcceptableSkew(i.clockSkew),
		jwt.WithAudience(Audience),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if err := jwt.Validate(parsed, opts...); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(parsed.Subject())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return id, nil
}

func requireHS256(token string) error {
	message, err := jws.ParseString(token)
	if err != nil {
		return err
	}
	for _, sig := range message.Signatures() {
		headers := sig.ProtectedHeaders()
		if headers == nil || headers.Algorithm() != jwa.HS256 {
			return errors.New("unexpected signing algorithm")
		}
	}
	if len(message.Signatures()) == 0 {
		return errors.New("token contains no signatures")
	}
	return nil
}
