package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/data/repos/testutil"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/ctxutil"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := NewAuthService(testutil.Logger(t), "secret", time.Minute)
	userID := uuid.New()
	token, err := svc.IssueToken(userID, "Sam", map[string]string{PrefBotName: "Echo"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	ctx, err := svc.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID != userID || rd.SessionID == uuid.Nil {
		t.Fatalf("request data: got %+v", rd)
	}
	prefs := PreferencesFrom(rd)
	if prefs.DisplayName != "Sam" || prefs.BotName != "Echo" {
		t.Fatalf("preferences: got %+v", prefs)
	}
}

func TestAuthServiceRejects(t *testing.T) {
	svc := NewAuthService(testutil.Logger(t), "secret", time.Minute)
	other := NewAuthService(testutil.Logger(t), "other", time.Minute)
	foreign, _ := other.IssueToken(uuid.New(), "", nil)

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("secret"))

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"foreign":    foreign,
		"expired":    expired,
		"no subject": noSubject,
	}
	for name, token := range cases {
		ctx, err := svc.SetContextFromToken(context.Background(), token)
		if !apierr.Is(err, apierr.CodeUnauthenticated) {
			t.Fatalf("%s: want unauthenticated got %v", name, err)
		}
		if ctxutil.GetRequestData(ctx) != nil {
			t.Fatalf("%s: request data attached", name)
		}
	}
}
