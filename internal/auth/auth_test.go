package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoginVerifyRoundTrip(t *testing.T) {
	m := New(secret, time.Hour, "admin", "hunter2")

	token, err := m.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	subject, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "admin" {
		t.Errorf("subject = %q", subject)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	m := New(secret, time.Hour, "admin", "hunter2")

	if _, err := m.Login("admin", "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
	if _, err := m.Login("other", "hunter2"); err == nil {
		t.Error("wrong user accepted")
	}
}

func TestLogin_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	m := New(secret, time.Hour, "admin", string(hash))

	if _, err := m.Login("admin", "hunter2"); err != nil {
		t.Errorf("bcrypt login: %v", err)
	}
	if _, err := m.Login("admin", string(hash)); err == nil {
		t.Error("hash literal accepted as password")
	}
}

func TestVerify_Garbage(t *testing.T) {
	m := New(secret, time.Hour, "admin", "hunter2")
	if _, err := m.Verify("not-a-token"); err == nil {
		t.Error("garbage token verified")
	}

	other := New("another-secret-another-secret!!!", time.Hour, "admin", "hunter2")
	token, _ := other.Login("admin", "hunter2")
	if _, err := m.Verify(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestMiddleware(t *testing.T) {
	m := New(secret, time.Hour, "admin", "hunter2")
	token, _ := m.Login("admin", "hunter2")

	var seenSubject string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenSubject = Subject(r.Context())
	}))

	// No token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", rec.Code)
	}

	// Valid token.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rec.Code)
	}
	if seenSubject != "admin" {
		t.Errorf("subject in context = %q", seenSubject)
	}
}
