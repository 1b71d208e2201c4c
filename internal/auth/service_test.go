package auth

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"llmchat/internal/config"
	"llmchat/internal/redis"
	"llmchat/internal/storage"
)

func TestAuthIssueValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 1)

	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()
	token, err := svc.IssueToken(ctx, 1)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", token)
	}
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != 1 {
		t.Fatalf("ValidateToken failed: id=%d err=%v", userID, err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}

	token2, err := svc.IssueToken(ctx, 1)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := svc.RevokeUserTokens(ctx, 1); err != nil {
		t.Fatalf("RevokeUserTokens error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token2); err == nil {
		t.Fatalf("expected error after revoke all")
	}
	if _, err := svc.ValidateToken(ctx, ""); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 2)

	svc := NewService(db, nil, 10*time.Millisecond)
	token, err := svc.IssueToken(context.Background(), 2)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token not purged")
	}
}

func TestPurgeExpired(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 3)
	short := NewService(db, nil, time.Millisecond)
	if _, err := short.IssueToken(context.Background(), 3); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	long := NewService(db, nil, time.Hour)
	live, err := long.IssueToken(context.Background(), 3)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := long.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged token, got %d", n)
	}
	if _, err := long.ValidateToken(context.Background(), live); err != nil {
		t.Fatalf("live token rejected: %v", err)
	}
}

func TestMiddlewareAndCSRF(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	insertUser(t, db, 4)
	svc := NewService(db, nil, time.Hour)
	token, err := svc.IssueToken(context.Background(), 4)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	r := gin.New()
	g := r.Group("/", svc.Middleware(), svc.CSRFMiddleware())
	handler := func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, strconv.FormatInt(id, 10))
	}
	g.GET("/me", handler)
	g.POST("/me", handler)

	do := func(method string, mutate func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/me", nil)
		mutate(req)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodGet, func(*http.Request) {}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}
	rec := do(http.MethodGet, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if rec.Code != http.StatusOK || rec.Body.String() != "4" {
		t.Fatalf("bearer GET: got %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }); rec.Code != http.StatusOK {
		t.Fatalf("bearer POST should skip csrf, got %d", rec.Code)
	}

	cookie := &http.Cookie{Name: svc.AuthCookieName(), Value: token}
	if rec := do(http.MethodPost, func(r *http.Request) { r.AddCookie(cookie) }); rec.Code != http.StatusForbidden {
		t.Fatalf("cookie POST without csrf: expected 403, got %d", rec.Code)
	}
	rec = do(http.MethodPost, func(r *http.Request) {
		r.AddCookie(cookie)
		r.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "abc"})
		r.Header.Set(svc.CSRFHeaderName(), "abc")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie POST with csrf: expected 200, got %d", rec.Code)
	}
}

func TestSetSessionCookies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(nil, nil, time.Hour)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", nil)

	csrf, err := svc.SetSession(c, "tok")
	if err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	found := map[string]*http.Cookie{}
	for _, ck := range rec.Result().Cookies() {
		found[ck.Name] = ck
	}
	if ck := found[svc.AuthCookieName()]; ck == nil || ck.Value != "tok" || !ck.HttpOnly {
		t.Fatalf("session cookie missing or not http-only: %+v", ck)
	}
	if ck := found[svc.CSRFCookieName()]; ck == nil || ck.Value != csrf || ck.HttpOnly {
		t.Fatalf("csrf cookie wrong: %+v", ck)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "auth.db")},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, "user_"+strconv.FormatInt(id, 10), time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestAuthTokenCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	insertUser(t, db, 10)

	cacheClient := newRedisCacheClient(t)
	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 10)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	key := redisTokenPrefix + token
	got, err := cacheClient.Get(ctx, key)
	if err != nil {
		t.Fatalf("get redis token: %v", err)
	}
	if got != "10" {
		t.Fatalf("expected user 10 in redis, got %s", got)
	}

	// served from redis even when the row is gone
	_, _ = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != 10 {
		t.Fatalf("ValidateToken via redis failed: id=%d err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := cacheClient.Get(ctx, key); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke")
	}
}

func newRedisCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(config.RedisConfig{Enabled: true, Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
