package conversation

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"llmchat/internal/config"
	"llmchat/internal/models"
	"llmchat/internal/storage"
)

func TestProviderKeyEncryptsData(t *testing.T) {
	t.Setenv(KeyEnv, strings.Repeat("a", 32))
	svc, db := newTestService(t)
	userID := insertTestUser(t, db, "alice")
	ctx := context.Background()

	if err := svc.SetProviderKey(ctx, userID, "openai", "secret-token"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	var stored string
	if err := db.QueryRow(`SELECT api_key FROM api_keys WHERE user_id = ? AND provider = ?`, userID, "openai").Scan(&stored); err != nil {
		t.Fatalf("query stored key: %v", err)
	}
	if stored == "secret-token" {
		t.Fatalf("key stored in plaintext")
	}
	got, err := svc.ProviderKey(ctx, userID, "openai")
	if err != nil || got != "secret-token" {
		t.Fatalf("ProviderKey = %q, %v", got, err)
	}

	// replacing keeps a single row
	if err := svc.SetProviderKey(ctx, userID, "openai", "second-token"); err != nil {
		t.Fatalf("replace key: %v", err)
	}
	keys, err := svc.ListProviderKeys(ctx, userID)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Masked != "********oken" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestProviderKeyAllowsLegacyPlaintext(t *testing.T) {
	t.Setenv(KeyEnv, strings.Repeat("b", 32))
	svc, db := newTestService(t)
	userID := insertTestUser(t, db, "bob")
	if _, err := db.Exec(`INSERT INTO api_keys (user_id, provider, api_key, created_at) VALUES (?, ?, ?, ?)`, userID, "gemini", "legacy", time.Now()); err != nil {
		t.Fatalf("insert legacy key: %v", err)
	}
	got, err := svc.ProviderKey(context.Background(), userID, "gemini")
	if err != nil || got != "legacy" {
		t.Fatalf("ProviderKey = %q, %v", got, err)
	}
	if err := svc.DeleteProviderKey(context.Background(), userID, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "carol", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, "carol", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	got, err := svc.Login(ctx, "carol", "pw")
	if err != nil || got.ID != user.ID {
		t.Fatalf("login: %+v %v", got, err)
	}

	prompt := "Talk like a pirate."
	if err := svc.SetDefaultSystemPrompt(ctx, user.ID, &prompt); err != nil {
		t.Fatalf("set default prompt: %v", err)
	}
	loaded, err := svc.GetUser(ctx, user.ID)
	if err != nil || loaded.DefaultSystemPrompt == nil || *loaded.DefaultSystemPrompt != prompt {
		t.Fatalf("default prompt not stored: %+v %v", loaded, err)
	}
	blank := "   "
	if err := svc.SetDefaultSystemPrompt(ctx, user.ID, &blank); err != nil {
		t.Fatalf("clear default prompt: %v", err)
	}
	loaded, _ = svc.GetUser(ctx, user.ID)
	if loaded.DefaultSystemPrompt != nil {
		t.Fatalf("expected cleared prompt")
	}
}

func TestConversationOwnership(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := insertTestUser(t, db, "owner")
	other := insertTestUser(t, db, "other")

	conv, err := svc.CreateConversation(ctx, owner, "gpt-4o", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != models.UntitledTitle {
		t.Fatalf("expected Untitled, got %q", conv.Title)
	}
	if _, err := svc.GetConversation(ctx, other, conv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetConversation(ctx, owner, conv.ID+100); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if _, err := svc.DeleteConversation(ctx, other, conv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
}

func TestMessagesOrderedWithAttachments(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := insertTestUser(t, db, "dave")
	conv, err := svc.CreateConversation(ctx, owner, "claude-sonnet-4-5-20250929", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.AddMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "one"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	in, out := 12, 34
	if _, err := svc.AddMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "two", InputTokens: &in, OutputTokens: &out}); err != nil {
		t.Fatalf("add message: %v", err)
	}
	if _, err := svc.AddMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleSystem, Content: "x"}); err == nil {
		t.Fatalf("expected system role to be rejected")
	}
	att, err := svc.AddAttachment(ctx, models.Attachment{MessageID: first.ID, Filename: "a.png", StoragePath: "/tmp/a.png", MimeType: "image/png", Size: 3})
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if msgs[0].InputTokens != nil || msgs[1].InputTokens == nil || *msgs[1].OutputTokens != 34 {
		t.Fatalf("token counts not round-tripped")
	}
	if len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0].ID != att.ID {
		t.Fatalf("attachment not linked: %+v", msgs[0].Attachments)
	}

	other := insertTestUser(t, db, "eve")
	if _, err := svc.GetAttachment(ctx, other, att.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for attachment, got %v", err)
	}
	firstUser, err := svc.FirstUserMessage(ctx, conv.ID)
	if err != nil || firstUser != "one" {
		t.Fatalf("FirstUserMessage = %q, %v", firstUser, err)
	}

	paths, err := svc.DeleteConversation(ctx, owner, conv.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/tmp/a.png" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conv.ID).Scan(&n); err != nil || n != 0 {
		t.Fatalf("messages not deleted: %d %v", n, err)
	}
}

func TestSetTitleIfUntitledOnlyOnce(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := insertTestUser(t, db, "frank")
	conv, _ := svc.CreateConversation(ctx, owner, "gpt-4o", nil)

	ok, err := svc.SetTitleIfUntitled(ctx, conv, "First title")
	if err != nil || !ok {
		t.Fatalf("first title: %v %v", ok, err)
	}
	ok, err = svc.SetTitleIfUntitled(ctx, conv, "Second title")
	if err != nil || ok {
		t.Fatalf("second title should be ignored: %v %v", ok, err)
	}
	loaded, _ := svc.GetConversation(ctx, owner, conv.ID)
	if loaded.Title != "First title" {
		t.Fatalf("unexpected title %q", loaded.Title)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := insertTestUser(t, db, "gina")
	older, _ := svc.CreateConversation(ctx, owner, "gpt-4o", nil)
	newer, _ := svc.CreateConversation(ctx, owner, "gemini-2.0-flash", nil)
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.AddMessage(ctx, models.Message{ConversationID: older.ID, Role: models.RoleUser, Content: "bump"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	list, err := svc.ListConversations(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != older.ID || list[1].ID != newer.ID {
		t.Fatalf("unexpected order: %+v", list)
	}
	if err := svc.UpdateModel(ctx, newer, "o3-mini"); err != nil {
		t.Fatalf("update model: %v", err)
	}
	loaded, _ := svc.GetConversation(ctx, owner, newer.ID)
	if loaded.Model != "o3-mini" {
		t.Fatalf("model not updated: %q", loaded.Model)
	}
}

func TestTemplatesOwnedFirst(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := insertTestUser(t, db, "hank")
	other := insertTestUser(t, db, "ivy")

	global, err := svc.CreateTemplate(ctx, nil, "Alpha", "shared")
	if err != nil {
		t.Fatalf("create global: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, &owner, "Zulu", "mine"); err != nil {
		t.Fatalf("create owned: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, &other, "Beta", "theirs"); err != nil {
		t.Fatalf("create other: %v", err)
	}
	list, err := svc.ListTemplates(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Zulu" || list[1].Name != "Alpha" {
		t.Fatalf("unexpected templates: %+v", list)
	}
	if err := svc.DeleteTemplate(ctx, owner, global.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden deleting shared template, got %v", err)
	}
	if err := svc.DeleteTemplate(ctx, owner, list[0].ID); err != nil {
		t.Fatalf("delete owned: %v", err)
	}
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "test.db")},
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

func insertTestUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, '', ?)`, username, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return id
}
