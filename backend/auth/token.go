// Package auth mints voice-session credentials. The actual voice
// infrastructure validates these tokens; the hub only issues them.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotConfigured = errors.New("voice credential service is not configured")
	ErrInvalidToken  = errors.New("invalid voice token")
)

// RoomGrant is the permission set encoded into a voice token.
type RoomGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

type Claims struct {
	Grant RoomGrant `json:"grant"`
	jwt.RegisteredClaims
}

// Minter issues room-scoped voice tokens signed with a shared secret.
// A Minter with an empty secret is unconfigured and refuses to mint.
type Minter struct {
	secret []byte
	ttl    time.Duration
	wsURL  string
}

type Config struct {
	Secret   string
	TokenTTL time.Duration
	WSURL    string
}

func NewMinter(cfg Config) *Minter {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Minter{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		wsURL:  cfg.WSURL,
	}
}

// Configured reports whether minting is possible.
func (m *Minter) Configured() bool {
	return len(m.secret) > 0
}

// WSURL is the voice transport endpoint handed to clients with the token.
func (m *Minter) WSURL() string {
	return m.wsURL
}

// Mint issues a token identifying nickname with full grants on roomName.
func (m *Minter) Mint(nickname, roomName string) (string, error) {
	if !m.Configured() {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := Claims{
		Grant: RoomGrant{
			Room:           roomName,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nickname,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses a minted token and returns its claims.
func (m *Minter) Validate(tokenString string) (*Claims, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
