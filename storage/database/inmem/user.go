package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for _, usr := range repo.db.users {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	repo.db.users[usr.ID] = usr
	repo.db.mu.Unlock()

	repo.db.publish(user.TopicUsers, usr.ID)
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.users[filter.ID]; ok {
			return usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.users {
		switch {
		case filter.Username != "" && usr.Username == filter.Username,
			filter.Email != "" && usr.Email == filter.Email,
			filter.UsernameOrEmail != "" && (usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail):
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if filter != nil && !repo.match(usr, filter) {
			continue
		}
		users = append(users, usr)
	}
	sort.SliceStable(users, func(i, j int) bool { return lessUser(users[i], users[j], ordering) })
	return users, nil
}

func (repo *userRepository) match(usr user.User, filter *user.QueryFilter) bool {
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(usr.Name), s) ||
			strings.Contains(strings.ToLower(usr.Username), s) ||
			strings.Contains(strings.ToLower(usr.Email), s)) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		prof, ok := repo.db.profiles[usr.ID]
		if !ok || !core.StringInSlice(prof.Role, filter.Roles) {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func lessUser(a, b user.User, ordering []core.DBOrdering) bool {
	for _, ord := range ordering {
		var c int
		switch ord.Field {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "username":
			c = strings.Compare(a.Username, b.Username)
		case "email":
			c = strings.Compare(a.Email, b.Email)
		case "is_active":
			c = compareBool(a.IsActive, b.IsActive)
		case "created_at":
			c = compareTime(a.CreatedAt, b.CreatedAt)
		case "updated_at":
			c = compareTime(a.UpdatedAt, b.UpdatedAt)
		case "last_login":
			c = compareTime(a.LastLogin.Time, b.LastLogin.Time)
		}
		if c != 0 {
			return (c < 0) == ord.Ascending
		}
	}
	return a.ID < b.ID
}

// UpdateUser only saves set fields.
func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, isActive *bool) (user.User, error) {
	repo.db.mu.Lock()
	orig, ok := repo.db.users[usr.ID]
	if !ok {
		repo.db.mu.Unlock()
		return user.User{}, user.ErrNotFound
	}
	if usr.PasswordHash != nil {
		orig.PasswordHash = usr.PasswordHash
	}
	if isActive != nil {
		orig.IsActive = *isActive
	}
	orig.Name = usr.Name
	orig.Username = usr.Username
	orig.Email = usr.Email
	orig.UpdatedAt = usr.UpdatedAt
	repo.db.users[usr.ID] = orig
	repo.db.mu.Unlock()

	repo.db.publish(user.TopicUsers, usr.ID)
	return orig, nil
}

func (repo *userRepository) SetLastLogin(_ context.Context, id string, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return user.ErrNotFound
	}
	usr.LastLogin = null.TimeFrom(at)
	repo.db.users[id] = usr
	return nil
}

// DeleteUsersByID also deletes the profiles of the users.
func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) (int, error) {
	repo.db.mu.Lock()
	var deleted, profiles []string
	for _, id := range ids {
		if _, ok := repo.db.users[id]; ok {
			delete(repo.db.users, id)
			deleted = append(deleted, id)
		}
		if _, ok := repo.db.profiles[id]; ok {
			delete(repo.db.profiles, id)
			profiles = append(profiles, id)
		}
	}
	repo.db.mu.Unlock()

	repo.db.publish(user.TopicUsers, deleted...)
	repo.db.publish(user.TopicProfiles, profiles...)
	return len(deleted), nil
}

func (repo *userRepository) GetProfile(_ context.Context, userID string) (user.Profile, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if p, ok := repo.db.profiles[userID]; ok {
		return p, nil
	}
	return user.Profile{}, user.ErrProfileNotFound
}

func (repo *userRepository) QueryProfiles(_ context.Context, userIDs ...string) ([]user.Profile, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	profs := make([]user.Profile, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := repo.db.profiles[id]; ok {
			profs = append(profs, p)
		}
	}
	return profs, nil
}

func (repo *userRepository) SaveProfile(_ context.Context, p user.Profile) (user.Profile, error) {
	p.Synthesized = false
	repo.db.mu.Lock()
	repo.db.profiles[p.UserID] = p
	repo.db.mu.Unlock()

	repo.db.publish(user.TopicProfiles, p.UserID)
	return p, nil
}

func (repo *userRepository) DeleteProfile(_ context.Context, userID string) error {
	repo.db.mu.Lock()
	if _, ok := repo.db.profiles[userID]; !ok {
		repo.db.mu.Unlock()
		return user.ErrProfileNotFound
	}
	delete(repo.db.profiles, userID)
	repo.db.mu.Unlock()

	repo.db.publish(user.TopicProfiles, userID)
	return nil
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
