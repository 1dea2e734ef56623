package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wasteroute/internal/model"
)

func init() { bcryptCost = bcrypt.MinCost }

func TestIssueAndParse(t *testing.T) {
	s := NewSessions("0123456789abcdef", time.Hour)
	tok, issued, err := s.Issue(model.User{ID: 42, Login: "ivanov", Role: model.RoleDriver})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ID != issued.ID || claims.ID == "" {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.ID)
	}
	p, err := claims.Principal()
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if p.UserID != 42 || p.Login != "ivanov" || !p.IsDriver() {
		t.Fatalf("principal: %+v", p)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	s := NewSessions("0123456789abcdef", time.Minute)
	tok, _, err := s.Issue(model.User{ID: 1, Login: "admin", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
	other := NewSessions("fedcba9876543210", time.Minute)
	tok2, _, _ := other.Issue(model.User{ID: 1, Login: "admin", Role: model.RoleAdmin})
	if _, err := NewSessions("0123456789abcdef", time.Minute).Parse(tok2); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(h, "s3cret") || CheckPassword(h, "wrong") || CheckPassword("", "") {
		t.Fatalf("password check mismatch")
	}
}
