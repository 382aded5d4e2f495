package user

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatgate/internal/config"
	"github.com/Tyrowin/chatgate/internal/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "users.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	if err := database.AutoMigrate(db, &User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db).WithCost(bcrypt.MinCost)
}

func TestEnsureAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Ensure(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if created.PasswordHash == "s3cret" {
		t.Fatal("password must be stored hashed")
	}

	found, err := repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername() error: %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("expected id %q, got %q", created.ID, found.ID)
	}
	if !found.CheckPassword("s3cret") {
		t.Error("expected password to match")
	}
	if found.CheckPassword("wrong") {
		t.Error("expected wrong password to be rejected")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, _ := repo.Ensure(ctx, "alice", "one")
	second, err := repo.Ensure(ctx, "alice", "two")
	if err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected the existing user to be returned")
	}
	if !second.CheckPassword("one") {
		t.Error("existing password must not be overwritten")
	}
}

func TestEnsureRejectsEmpty(t *testing.T) {
	repo := newTestRepository(t)
	if _, err := repo.Ensure(context.Background(), " ", "pw"); err == nil {
		t.Error("expected error for blank username")
	}
	if _, err := repo.Ensure(context.Background(), "bob", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestFindUnknownUser(t *testing.T) {
	repo := newTestRepository(t)
	if _, err := repo.FindByUsername(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
