package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core/session"
)

const sessionColumns = "id, user_id, email, device, ip, location, created_at, last_active, status, revoked_at, revoked_by"

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :user_id, :email, :device, :ip, :location, :created_at, :last_active, :status, :revoked_at, :revoked_by)`,
		s,
	)
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return session.Session{}, session.ErrNotFound
	}
	var s session.Session
	if err := repo.db.GetContext(ctx, &s, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id); err != nil {
		return session.Session{}, trapNoRowsErr(err, session.ErrNotFound)
	}
	return s, nil
}

// TouchSession never moves last_active backwards nor touches a revoked session.
func (repo *sessionRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE sessions SET last_active = $1
		WHERE id = $2 AND status = 'active' AND (last_active IS NULL OR last_active < $1)`,
		at, id,
	)
	return err
}

func (repo *sessionRepository) RevokeSession(ctx context.Context, id string, at time.Time, by string) (session.Session, error) {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'revoked', revoked_at = $1, revoked_by = $2
		WHERE id = $3 AND status = 'active'`,
		at, null.NewString(by, by != ""), id,
	)
	if err != nil {
		return session.Session{}, err
	}
	return repo.GetSession(ctx, id)
}

func (repo *sessionRepository) RevokeUserSessions(ctx context.Context, userID string, at time.Time, by string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'revoked', revoked_at = $1, revoked_by = $2
		WHERE user_id = $3 AND status = 'active'`,
		at, null.NewString(by, by != ""), userID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (repo *sessionRepository) QueryRecentSessions(ctx context.Context, filter session.QueryFilter) ([]session.Session, error) {
	q := "SELECT " + sessionColumns + " FROM sessions WHERE ($1 = '' OR user_id::text = $1) AND ($2 OR status = 'active')" +
		" ORDER BY created_at DESC, id DESC"
	args := []interface{}{filter.UserID, filter.IncludeRevoked}
	if filter.Limit > 0 {
		q += " LIMIT $3"
		args = append(args, filter.Limit)
	}
	var sessions []session.Session
	if err := repo.db.SelectContext(ctx, &sessions, q, args...); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (repo *sessionRepository) CreateActivity(ctx context.Context, a session.Activity) (session.Activity, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO activities (id, session_id, action, target, details, timestamp)
		VALUES (:id, :session_id, :action, :target, :details, :timestamp)`,
		a,
	)
	if err != nil {
		return session.Activity{}, err
	}
	return a, nil
}

func (repo *sessionRepository) QueryActivities(ctx context.Context, sessionID string, limit int) ([]session.Activity, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil
	}
	q := "SELECT id, session_id, action, target, details, timestamp FROM activities WHERE session_id = $1 ORDER BY timestamp DESC"
	args := []interface{}{sessionID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	var acts []session.Activity
	if err := repo.db.SelectContext(ctx, &acts, q, args...); err != nil {
		return nil, err
	}
	return acts, nil
}
