package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key-mm"
	testIssuer = "https://keycloak.test/realms/artstore"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, 5*time.Second, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// generateUserToken генерирует JWT пользователя с ролями realm_access.
func generateUserToken(t *testing.T, key *rsa.PrivateKey, sub string, roles []string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "user-" + sub,
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	return signToken(t, key, claims)
}

// generateSAToken генерирует JWT Service Account.
func generateSAToken(t *testing.T, key *rsa.PrivateKey, sub, clientID, scope string) string {
	t.Helper()
	return signToken(t, key, jwt.MapClaims{
		"sub":       sub,
		"client_id": clientID,
		"scope":     scope,
		"iss":       testIssuer,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":       jwt.NewNumericDate(time.Now()),
	})
}

func doAuthRequest(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/user", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_ValidUserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := doAuthRequest(handler, "Bearer "+generateUserToken(t, key, "user-1", []string{"offline_access", "user"}, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.Subject != "user-1" {
		t.Errorf("Subject = %s, ожидается user-1", got.Subject)
	}
	if got.SubjectType != SubjectTypeUser {
		t.Errorf("SubjectType = %s, ожидается user", got.SubjectType)
	}
	if got.EffectiveRole != RoleUser {
		t.Errorf("EffectiveRole = %s, ожидается user", got.EffectiveRole)
	}
}

func TestJWTAuth_AdminRoleWins(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))
	doAuthRequest(handler, "Bearer "+generateUserToken(t, key, "u", []string{"user", "admin"}, false))

	if got == nil || got.EffectiveRole != RoleAdmin {
		t.Fatalf("EffectiveRole = %+v, ожидается admin", got)
	}
}

func TestJWTAuth_ValidSAToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))
	doAuthRequest(handler, "Bearer "+generateSAToken(t, key, "sa-1", "sa_scanner", "openid files:scan"))

	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.SubjectType != SubjectTypeSA {
		t.Errorf("SubjectType = %s, ожидается service_account", got.SubjectType)
	}
	if !got.HasScope(ScopeFilesScan) {
		t.Error("ожидался scope files:scan")
	}
	if got.HasScope("files:write") {
		t.Error("не ожидался scope files:write")
	}
}

func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("обработчик не должен вызываться")
		w.WriteHeader(http.StatusOK)
	}))

	wrongIssuer := signToken(t, key, jwt.MapClaims{
		"sub": "u",
		"iss": "https://evil.test",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSub := signToken(t, key, jwt.MapClaims{
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExp := signToken(t, key, jwt.MapClaims{
		"sub": "u",
		"iss": testIssuer,
	})

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not.a.jwt"},
		{"просроченный", "Bearer " + generateUserToken(t, key, "u", nil, true)},
		{"чужой ключ", "Bearer " + generateUserToken(t, otherKey, "u", nil, false)},
		{"чужой issuer", "Bearer " + wrongIssuer},
		{"без sub", "Bearer " + noSub},
		{"без exp", "Bearer " + noExp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doAuthRequest(handler, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

func TestRequireRoleOrScope(t *testing.T) {
	mw := RequireRoleOrScope([]string{RoleAdmin}, []string{ScopeFilesScan})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		claims *AuthClaims
		want   int
	}{
		{"admin", &AuthClaims{Subject: "a", SubjectType: SubjectTypeUser, EffectiveRole: RoleAdmin}, http.StatusNoContent},
		{"обычный пользователь", &AuthClaims{Subject: "u", SubjectType: SubjectTypeUser, EffectiveRole: RoleUser}, http.StatusForbidden},
		{"SA со scope", &AuthClaims{Subject: "s", SubjectType: SubjectTypeSA, Scopes: []string{ScopeFilesScan}}, http.StatusNoContent},
		{"SA без scope", &AuthClaims{Subject: "s", SubjectType: SubjectTypeSA, Scopes: []string{"files:read"}}, http.StatusForbidden},
		{"неизвестный тип", &AuthClaims{Subject: "x"}, http.StatusForbidden},
		{"без claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/internal/files/x/scan-status", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jwks)
	}))
	defer ok.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer empty.Close()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"ключи есть", ok.URL, "ok"},
		{"нет ключей", empty.URL, "degraded"},
		{"недоступен", "http://127.0.0.1:1/jwks", "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewJWKSReadinessChecker(tt.url, "", time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if status, msg := c.CheckReady(); status != tt.want {
				t.Errorf("CheckReady() = %s (%s), ожидается %s", status, msg, tt.want)
			}
		})
	}
}
