package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-relay/internal/middleware"
	"github.com/mossy-p/call-relay/internal/registry"
)

func TestLoginIssuesUsableToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/api/auth/login", Login(testSecret))

	body := `{"username":"alice","password":"whatever","displayName":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.UserID != "alice" {
		t.Errorf("expected user_id alice, got %s", resp.UserID)
	}

	claims, err := middleware.ParseToken(resp.Token, testSecret)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != "alice" || claims.DisplayName != "Alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/api/auth/login", Login(testSecret))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

type idleChannel struct{ id string }

func (ch *idleChannel) ID() string             { return ch.id }
func (ch *idleChannel) Send(string, any) error { return nil }
func (ch *idleChannel) Close() error           { return nil }
func (ch *idleChannel) IsOpen() bool           { return true }

type tokenClock struct{ now time.Time }

func (c *tokenClock) Now() time.Time { return c.now }

func TestPresenceListsRegisteredUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.New(&tokenClock{now: time.Unix(1000, 0)})
	reg.Register("bob", "Bob", &idleChannel{id: "b"})
	reg.Register("alice", "Alice", &idleChannel{id: "a"})

	engine := gin.New()
	engine.GET("/api/presence", middleware.JWTAuth(testSecret), Presence(reg))

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "carol", ""))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PresenceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Online) != 2 || resp.Online[0].Identity != "alice" || resp.Online[1].Identity != "bob" {
		t.Errorf("expected alice and bob in identity order, got %+v", resp.Online)
	}
}

func TestPresenceRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.New(nil)

	engine := gin.New()
	engine.GET("/api/presence", middleware.JWTAuth(testSecret), Presence(reg))

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
