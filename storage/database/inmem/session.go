package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(_ context.Context, s session.Session) (session.Session, error) {
	repo.db.mu.Lock()
	repo.db.sessions[s.ID] = s
	repo.db.mu.Unlock()

	repo.db.publish(session.Topic, s.ID)
	return s, nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return s, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) TouchSession(_ context.Context, id string, at time.Time) error {
	repo.db.mu.Lock()
	s, ok := repo.db.sessions[id]
	if !ok {
		repo.db.mu.Unlock()
		return session.ErrNotFound
	}
	if !s.IsActive() || (s.LastActive.Valid && !at.After(s.LastActive.Time)) {
		repo.db.mu.Unlock()
		return nil
	}
	s.LastActive = null.TimeFrom(at)
	repo.db.sessions[id] = s
	repo.db.mu.Unlock()

	repo.db.publish(session.Topic, id)
	return nil
}

func (repo *sessionRepository) RevokeSession(_ context.Context, id string, at time.Time, by string) (session.Session, error) {
	repo.db.mu.Lock()
	s, ok := repo.db.sessions[id]
	if !ok {
		repo.db.mu.Unlock()
		return session.Session{}, session.ErrNotFound
	}
	if !s.IsActive() {
		repo.db.mu.Unlock()
		return s, nil
	}
	s = revoke(s, at, by)
	repo.db.sessions[id] = s
	repo.db.mu.Unlock()

	repo.db.publish(session.Topic, id)
	return s, nil
}

func (repo *sessionRepository) RevokeUserSessions(_ context.Context, userID string, at time.Time, by string) (int, error) {
	repo.db.mu.Lock()
	var revoked []string
	for id, s := range repo.db.sessions {
		if s.UserID == userID && s.IsActive() {
			repo.db.sessions[id] = revoke(s, at, by)
			revoked = append(revoked, id)
		}
	}
	repo.db.mu.Unlock()

	repo.db.publish(session.Topic, revoked...)
	return len(revoked), nil
}

func revoke(s session.Session, at time.Time, by string) session.Session {
	s.Status = session.StatusRevoked
	s.RevokedAt = null.TimeFrom(at)
	s.RevokedBy = null.NewString(by, by != "")
	return s
}

func (repo *sessionRepository) QueryRecentSessions(_ context.Context, filter session.QueryFilter) ([]session.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	sessions := make([]session.Session, 0, len(repo.db.sessions))
	for _, s := range repo.db.sessions {
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if !filter.IncludeRevoked && !s.IsActive() {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

func (repo *sessionRepository) CreateActivity(_ context.Context, a session.Activity) (session.Activity, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.activities = append(repo.db.activities, a)
	return a, nil
}

func (repo *sessionRepository) QueryActivities(_ context.Context, sessionID string, limit int) ([]session.Activity, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var acts []session.Activity
	// activities are appended in time order
	for i := len(repo.db.activities) - 1; i >= 0; i-- {
		if a := repo.db.activities[i]; a.SessionID == sessionID {
			acts = append(acts, a)
			if limit > 0 && len(acts) == limit {
				break
			}
		}
	}
	return acts, nil
}
