package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrMissingUserID = errors.New("missing subject in claims")
	ErrInvalidRole   = errors.New("unknown role in claims")
	ErrEmptySecret   = errors.New("jwt secret is empty")
)

// Claims описывает полезную нагрузку токена вызывающего.
type Claims struct {
	jwt.RegisteredClaims
	Role       domain.Role `json:"role"`
	Businesses []string    `json:"businesses,omitempty"`
}

// Caller переводит claims в доменного вызывающего.
func (c *Claims) Caller() domain.Caller {
	return domain.Caller{
		UserID:     c.Subject,
		Role:       c.Role,
		Businesses: append([]string(nil), c.Businesses...),
	}
}

// TokenService подписывает и проверяет HS256 токены.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService создаёт сервис. ttl <= 0 заменяется часом.
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue выпускает токен для вызывающего. Используется нагрузочным прогоном и тестами.
func (s *TokenService) Issue(caller domain.Caller) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   caller.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role:       caller.Role,
		Businesses: caller.Businesses,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse проверяет подпись и срок токена и возвращает его claims.
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingUserID
	}
	if !validRole(claims.Role) {
		return nil, ErrInvalidRole
	}
	return claims, nil
}

func validRole(r domain.Role) bool {
	switch r {
	case domain.RoleCustomer, domain.RoleBusinessOwner, domain.RoleStaff, domain.RoleAdmin, domain.RoleSuperAdmin:
		return true
	default:
		return false
	}
}
