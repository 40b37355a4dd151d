package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

const userColumns = "id, name, username, email, is_active, password_hash, created_at, updated_at, last_login"

// userOrderColumns are the columns QueryUsers may order on; keys and values are identical.
var userOrderColumns = func() map[string]string {
	cols := make(map[string]string, len(user.OrderingFields))
	for _, col := range user.OrderingFields {
		cols[col] = col
	}
	return cols
}()

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	q := "SELECT username, email FROM users WHERE (username = ? OR email = ?)"
	args := []interface{}{username, email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	q, args, err := sqlx.In(q+" LIMIT 1", args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var found struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	err = repo.db.GetContext(ctx, &found, repo.db.Rebind(q), args...)
	switch {
	case err != nil:
		return trapNoRowsErr(err, nil)
	case username != "" && found.Username == username:
		return user.ErrUsernameExists
	default:
		return user.ErrEmailExists
	}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :name, :username, :email, :is_active, :password_hash, :created_at, :updated_at, :last_login)`,
		usr,
	)
	switch {
	case isUniqueViolation(err, "users_username_key"):
		return user.User{}, user.ErrUsernameExists
	case isUniqueViolation(err, "users_email_key"):
		return user.User{}, user.ErrEmailExists
	case err != nil:
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		usr   user.User
		where string
		arg   string
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		where, arg = "id = $1", filter.ID
	case filter.Username != "":
		where, arg = "username = $1", filter.Username
	case filter.Email != "":
		where, arg = "email = $1", filter.Email
	case filter.UsernameOrEmail != "":
		where, arg = "(username = $1 OR email = $1)", filter.UsernameOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	err := repo.db.GetContext(ctx, &usr, "SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound)
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Search != "" {
			s := "%" + filter.Search + "%"
			conds = append(conds, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, s, s, s)
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, "id IN (SELECT user_id FROM profiles WHERE role IN (?))")
			args = append(args, filter.Roles)
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, filter.CreatedFrom)
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, filter.CreatedTo)
		}
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if ob := orderBy(ordering, userOrderColumns); ob != "" {
		q += " ORDER BY " + ob + ", id"
	}

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}
	var users []user.User
	if err = repo.db.SelectContext(ctx, &users, repo.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser only saves set fields: a nil PasswordHash and a nil isActive are left untouched.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	sets := []string{"name = :name", "username = :username", "email = :email", "updated_at = :updated_at"}
	if usr.PasswordHash != nil {
		sets = append(sets, "password_hash = :password_hash")
	}
	if isActive != nil {
		usr.IsActive = *isActive
		sets = append(sets, "is_active = :is_active")
	}
	res, err := repo.db.NamedExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = :id", usr)
	switch {
	case isUniqueViolation(err, "users_username_key"):
		return user.User{}, user.ErrUsernameExists
	case isUniqueViolation(err, "users_email_key"):
		return user.User{}, user.ErrEmailExists
	case err != nil:
		return user.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo *userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := repo.db.ExecContext(ctx, "UPDATE users SET last_login = $1 WHERE id = $2", at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// DeleteUsersByID also deletes the profiles of the users (ON DELETE CASCADE).
func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", valid)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (repo *userRepository) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return user.Profile{}, user.ErrProfileNotFound
	}
	var p user.Profile
	err := repo.db.GetContext(ctx, &p, "SELECT user_id, role, permissions, updated_at FROM profiles WHERE user_id = $1", userID)
	if err != nil {
		return user.Profile{}, trapNoRowsErr(err, user.ErrProfileNotFound)
	}
	return p, nil
}

func (repo *userRepository) QueryProfiles(ctx context.Context, userIDs ...string) ([]user.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In("SELECT user_id, role, permissions, updated_at FROM profiles WHERE user_id IN (?)", userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building profiles query")
	}
	var profs []user.Profile
	if err = repo.db.SelectContext(ctx, &profs, repo.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return profs, nil
}

func (repo *userRepository) SaveProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	p.Synthesized = false
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO profiles (user_id, role, permissions, updated_at)
		VALUES (:user_id, :role, :permissions, :updated_at)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role, permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at`,
		p,
	)
	if err != nil {
		return user.Profile{}, err
	}
	return p, nil
}

func (repo *userRepository) DeleteProfile(ctx context.Context, userID string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM profiles WHERE user_id = $1", userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrProfileNotFound
	}
	return nil
}
