package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHMACRoundTrip(t *testing.T) {
	secret := []byte("shared-peer-secret")
	now := time.Now()
	token := SignPeerMessage(secret, "hello-payload", now)

	if err := VerifyPeerMessage(secret, "hello-payload", token, now.Add(30*time.Second)); err != nil {
		t.Fatalf("VerifyPeerMessage within window: %v", err)
	}
}

func TestHMACRejectsReplayOutsideWindow(t *testing.T) {
	secret := []byte("shared-peer-secret")
	now := time.Now()
	token := SignPeerMessage(secret, "hello-payload", now)

	err := VerifyPeerMessage(secret, "hello-payload", token, now.Add(10*time.Minute))
	if err != ErrReplay {
		t.Fatalf("VerifyPeerMessage outside window = %v, want ErrReplay", err)
	}
}

func TestHMACRejectsTamperedBody(t *testing.T) {
	secret := []byte("shared-peer-secret")
	now := time.Now()
	token := SignPeerMessage(secret, "original", now)

	err := VerifyPeerMessage(secret, "tampered", token, now)
	if err == nil {
		t.Fatal("VerifyPeerMessage accepted a tampered body")
	}
}

func TestHMACRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	token := SignPeerMessage([]byte("secret-a"), "body", now)

	err := VerifyPeerMessage([]byte("secret-b"), "body", token, now)
	if err == nil {
		t.Fatal("VerifyPeerMessage accepted a mismatched secret")
	}
}

func TestJWTValidatorRoundTrip(t *testing.T) {
	secret := []byte("test-signing-key")
	claims := fabrikClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ci-runner",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Write: true,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	v := NewJWTValidator(func(*jwt.Token) (interface{}, error) { return secret, nil })
	got, err := v.Validate(context.Background(), signed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Subject != "ci-runner" || !got.CanWrite {
		t.Errorf("Validate claims = %+v, want subject ci-runner, write true", got)
	}
	if err := RequireWrite(got); err != nil {
		t.Errorf("RequireWrite on a write-capable token: %v", err)
	}
}

func TestJWTValidatorRejectsEmptyToken(t *testing.T) {
	v := NewJWTValidator(func(*jwt.Token) (interface{}, error) { return []byte("x"), nil })
	if _, err := v.Validate(context.Background(), ""); err == nil {
		t.Error("Validate(\"\") returned nil error")
	}
}

func TestRequireWriteForbidsReadOnlyClaims(t *testing.T) {
	if err := RequireWrite(Claims{Subject: "reader", CanWrite: false}); err != ErrForbidden {
		t.Errorf("RequireWrite(read-only) = %v, want ErrForbidden", err)
	}
}

func TestStaticValidatorAlwaysSucceeds(t *testing.T) {
	v := StaticValidator{Claims: Claims{Subject: "dev", CanWrite: true}}
	got, err := v.Validate(context.Background(), "anything-or-nothing")
	if err != nil || got.Subject != "dev" {
		t.Fatalf("StaticValidator.Validate = %+v, %v", got, err)
	}
}
