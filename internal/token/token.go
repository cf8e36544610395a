package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antoniostano/handoff/internal/apperr"
)

// Grants describes what a capability token allows inside one room. The shape
// mirrors the video grant block the media transport verifies.
type Grants struct {
	Room                 string `json:"room,omitempty"`
	RoomJoin             bool   `json:"roomJoin"`
	RoomCreate           bool   `json:"roomCreate,omitempty"`
	RoomAdmin            bool   `json:"roomAdmin,omitempty"`
	CanPublish           bool   `json:"canPublish,omitempty"`
	CanSubscribe         bool   `json:"canSubscribe,omitempty"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata,omitempty"`
}

// ParticipantGrants is the default grant set for callers and agents joining a
// single room.
func ParticipantGrants(room string) Grants {
	return Grants{
		Room:                 room,
		RoomJoin:             true,
		CanPublish:           true,
		CanSubscribe:         true,
		CanUpdateOwnMetadata: true,
	}
}

// AdminGrants scopes a short-lived token for server-side room management.
func AdminGrants(room string) Grants {
	return Grants{
		Room:       room,
		RoomCreate: true,
		RoomAdmin:  true,
	}
}

type claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Video Grants `json:"video"`
}

// Issuer mints signed capability tokens. It is a pure encoder: verification
// and rejection of expired or mis-scoped tokens is the transport's job.
type Issuer struct {
	apiKey     string
	apiSecret  string
	defaultTTL time.Duration
}

func NewIssuer(apiKey, apiSecret string, defaultTTL time.Duration) *Issuer {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, defaultTTL: defaultTTL}
}

// Mint encodes identity + grants + expiry into a signed HS256 JWT. A zero ttl
// selects the configured default; a negative ttl is rejected.
func (i *Issuer) Mint(identity, name string, grants Grants, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", apperr.New(apperr.KindInvalidArgument, "token identity is required")
	}
	if ttl < 0 {
		return "", apperr.Newf(apperr.KindInvalidArgument, "token ttl must be positive, got %v", ttl)
	}
	if ttl == 0 {
		ttl = i.defaultTTL
	}

	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  name,
		Video: grants,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString([]byte(i.apiSecret))
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "sign token", err)
	}
	return signed, nil
}
