package testutil

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/database"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// TestRepository returns a repository backed by a private in-memory sqlite
// database.
func TestRepository(t *testing.T) *database.GormChatRepository {
	t.Helper()

	repo, err := database.NewGormChatRepository(database.DriverSqlite, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

// TestUser creates an account in repo and returns it.
func TestUser(t *testing.T, repo database.ChatRepository, username string) database.User {
	t.Helper()

	u, err := repo.CreateAccount(context.Background(), database.CreateAccountParams{
		Username: username,
		Provider: "guest",
		Role:     "user",
	})
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}

	return u
}
