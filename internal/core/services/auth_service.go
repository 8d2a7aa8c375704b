package services

import (
	"errors"
	"time"

	"stagecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the control tokens that guard broadcast
// control and moderation endpoints. Destination platform OAuth is out of
// scope; credentials are assumed valid when a destination is selected.
type AuthService interface {
	GenerateToken(participantID domain.ParticipantID, role domain.Role) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	RequireRole(claims *Claims, required domain.Role) error
}

type Claims struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Role          domain.Role          `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(participantID domain.ParticipantID, role domain.Role) (string, error) {
	claims := &Claims{
		ParticipantID: participantID,
		Role:          role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// RequireRole enforces the host > guest > viewer-proxy hierarchy.
func (s *authService) RequireRole(claims *Claims, required domain.Role) error {
	hierarchy := map[domain.Role]int{
		domain.RoleViewerProxy: 1,
		domain.RoleGuest:       2,
		domain.RoleHost:        3,
	}

	if hierarchy[claims.Role] >= hierarchy[required] {
		return nil
	}
	return ErrUnauthorized
}
