package tokens_test

import (
	"testing"
	"time"

	"github.com/technosupport/ts-comply/internal/tokens"
)

func TestStreamTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", time.Minute)

	token, sessionID, err := mgr.GenerateStreamToken("kiosk-7")
	if err != nil {
		t.Fatalf("Failed to generate stream token: %v", err)
	}
	if sessionID == "" {
		t.Fatal("Expected non-empty session id")
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.ClientID != "kiosk-7" {
		t.Errorf("Expected ClientID kiosk-7, got %s", claims.ClientID)
	}
	if claims.SessionID != sessionID {
		t.Errorf("Expected SessionID %s, got %s", sessionID, claims.SessionID)
	}
	if claims.TokenType != tokens.Stream {
		t.Errorf("Expected TokenType %s, got %s", tokens.Stream, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1", time.Minute)
	mgr2 := tokens.NewManager("secret-2", time.Minute)

	token, _, _ := mgr1.GenerateStreamToken("c1")
	if _, err := mgr2.ValidateToken(token); err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("secret", time.Nanosecond)

	token, _, err := mgr.GenerateStreamToken("c1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Error("Expected validation error for expired token")
	}
}
