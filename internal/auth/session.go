// Package auth выпускает и проверяет токены сессии покупателя и администратора.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

const (
	// CookieName: cookie с токеном сессии в браузере.
	CookieName = "shawlshop_session"
	// MetadataKey: ключ gRPC metadata с токеном сессии.
	MetadataKey = "x-session-token"

	// DefaultTTL: срок жизни сессии по умолчанию.
	DefaultTTL   = 7 * 24 * time.Hour
	minSecretLen = 16
)

var (
	// ErrInvalidToken: токен повреждён или подпись не сходится.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken: срок жизни токена истёк.
	ErrExpiredToken = errors.New("session token expired")
	// ErrSecretTooShort: секрет подписи короче допустимого.
	ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
)

var encoding = base64.RawURLEncoding

type claims struct {
	Subject string      `json:"sub"`
	Role    domain.Role `json:"role"`
	Expires int64       `json:"exp"`
}

// Sessions подписывает токены HMAC-SHA256.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions создаёт выпускающего токены. ttl <= 0 означает DefaultTTL.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sessions{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue выпускает токен для личности. Гостю токен не нужен.
func (s *Sessions) Issue(identity domain.Identity) (string, error) {
	if identity.IsGuest() {
		return "", fmt.Errorf("%w: guest identity", ErrInvalidToken)
	}

	payload, err := json.Marshal(claims{
		Subject: identity.CustomerID,
		Role:    identity.Role,
		Expires: s.now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal session claims: %w", err)
	}

	body := encoding.EncodeToString(payload)
	return body + "." + encoding.EncodeToString(s.sign(body)), nil
}

// Verify проверяет подпись и срок действия токена.
func (s *Sessions) Verify(token string) (domain.Identity, error) {
	body, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || body == "" || sig == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	gotSig, err := encoding.DecodeString(sig)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	if !hmac.Equal(gotSig, s.sign(body)) {
		return domain.Identity{}, ErrInvalidToken
	}

	payload, err := encoding.DecodeString(body)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	if c.Subject == "" || !c.Role.Valid() {
		return domain.Identity{}, ErrInvalidToken
	}
	if !s.now().Before(time.Unix(c.Expires, 0)) {
		return domain.Identity{}, ErrExpiredToken
	}

	return domain.Identity{CustomerID: c.Subject, Role: c.Role}, nil
}

// Resolve возвращает гостя для пустого токена и ошибку для битого.
func (s *Sessions) Resolve(token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Guest(), nil
	}
	identity, err := s.Verify(token)
	if err != nil {
		return domain.Guest(), err
	}
	return identity, nil
}

func (s *Sessions) sign(body string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
