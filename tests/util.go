package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/logger"
)

// NewLogger returns a silent app logger; Rollbar stays disabled.
// Background goroutines may log after a test ends, so nothing is routed to t.Log.
func NewLogger(t testing.TB) core.Logger {
	t.Helper()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), core.Conf)
	logger.Enable(false)
	return logger
}

// CreateUser stores a user, and its profile when role is not empty.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role string,
	perms authz.Permissions,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	ctx := context.Background()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(ctx, usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if role != "" {
		if _, err = repo.SaveProfile(ctx, user.Profile{UserID: usr.ID, Role: role, Permissions: perms, UpdatedAt: tstamp}); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	return usr
}

// CreateSession stores an active session of usr created at createdAt.
func CreateSession(t *testing.T, repo session.Repository, usr user.User, createdAt time.Time) session.Session {
	t.Helper()
	s, err := repo.CreateSession(context.Background(), session.Session{
		ID:        uuid.New().String(),
		UserID:    usr.ID,
		Email:     usr.Email,
		Device:    session.DeviceDesktop,
		IP:        "127.0.0.1",
		CreatedAt: createdAt.UTC(),
		Status:    session.StatusActive,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return s
}
