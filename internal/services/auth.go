package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

// Preference claim keys. They mirror chat.Preferences.
const (
	PrefDisplayName   = "displayName"
	PrefProfession    = "profession"
	PrefResponseStyle = "responseStyle"
	PrefBotName       = "botName"
)

type AuthService interface {
	// SetContextFromToken verifies a bearer token and attaches its session to ctx.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueToken(userID uuid.UUID, name string, prefs map[string]string) (string, error)
	GetAccessTTL() time.Duration
}

type JWTClaims struct {
	SessionID   string            `json:"sid,omitempty"`
	Name        string            `json:"name,omitempty"`
	Preferences map[string]string `json:"prefs,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(log *logger.Logger, jwtSecretKey string, accessTTL time.Duration) AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &authService{
		log:          log.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

func (as *authService) IssueToken(userID uuid.UUID, name string, prefs map[string]string) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("issue token: missing user id")
	}
	if as.jwtSecretKey == "" {
		return "", fmt.Errorf("issue token: no signing key configured")
	}
	now := time.Now()
	claims := JWTClaims{
		SessionID:   uuid.NewString(),
		Name:        name,
		Preferences: prefs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx, apierr.Unauthenticated("missing token")
	}
	if as.jwtSecretKey == "" {
		return ctx, apierr.Unauthenticated("authentication is not configured")
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		as.log.Debug("token rejected", "error", err)
		return ctx, apierr.Unauthenticated("invalid or expired token")
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, apierr.Unauthenticated("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return ctx, apierr.Unauthenticated("invalid user id in token")
	}
	sessionID, _ := uuid.Parse(claims.SessionID)

	rd := &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      userID,
		SessionID:   sessionID,
		Name:        claims.Name,
		Preferences: claims.Preferences,
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}

// PreferencesFrom reads the session's response preferences. The display name
// falls back to the session name.
func PreferencesFrom(rd *ctxutil.RequestData) chat.Preferences {
	if rd == nil {
		return chat.Preferences{}
	}
	p := chat.Preferences{
		DisplayName:   strings.TrimSpace(rd.Preferences[PrefDisplayName]),
		Profession:    strings.TrimSpace(rd.Preferences[PrefProfession]),
		ResponseStyle: strings.TrimSpace(rd.Preferences[PrefResponseStyle]),
		BotName:       strings.TrimSpace(rd.Preferences[PrefBotName]),
	}
	if p.DisplayName == "" {
		p.DisplayName = strings.TrimSpace(rd.Name)
	}
	return p
}
