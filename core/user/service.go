package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
)

// Notification topics; keys are user ids.
const (
	TopicUsers    = "users"
	TopicProfiles = "profiles"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("user not found")
	ErrProfileNotFound = core.NewNotFoundError("profile not found")
	ErrEmailExists     = errors.New("a user with this email already exists")
	ErrUsernameExists  = errors.New("a user with this username already exists")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) error
		DeleteUsersByID(ctx context.Context, ids ...string) (int, error)

		GetProfile(ctx context.Context, userID string) (Profile, error)
		QueryProfiles(ctx context.Context, userIDs ...string) ([]Profile, error)
		// SaveProfile creates or replaces the profile of a user.
		SaveProfile(ctx context.Context, p Profile) (Profile, error)
		DeleteProfile(ctx context.Context, userID string) error
	}

	// SessionRevoker revokes the sessions of deleted users.
	SessionRevoker interface {
		RevokeUser(ctx context.Context, userID, by string) (int, error)
	}

	Service struct {
		repo     Repository
		notifier core.Notifier
		sessions SessionRevoker
		mailSvc  core.EmailService
		logger   core.Logger
		goFunc   func(func()) // runs background work
	}
)

func NewService(
	repo Repository,
	notifier core.Notifier,
	sessions SessionRevoker,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		sessions: sessions,
		mailSvc:  mailSvc,
		logger:   logger,
		goFunc:   func(f func()) { go f() },
	}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (Account, error) {
	now := time.Now().UTC()
	usr := User{
		ID:        uuid.New().String(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return Account{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return Account{}, errors.Wrap(err, "creating user")
	}

	prof, err := svc.repo.SaveProfile(ctx, Profile{
		UserID:      usr.ID,
		Role:        nu.Role,
		Permissions: authz.ParsePermissions(nu.Permissions...),
		UpdatedAt:   now,
	})
	if err != nil {
		return Account{}, errors.Wrap(err, "saving profile")
	}
	return Account{User: usr, Profile: &prof}, nil
}

func (svc *Service) get(ctx context.Context, filter GetFilter) (User, error) {
	usr, err := svc.repo.GetUser(ctx, filter)
	if err != nil {
		if core.IsNotFound(err) {
			return User{}, ErrNotFound
		}
		return User{}, errors.Wrap(err, "getting user")
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.get(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.get(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.get(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.get(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	acc := Account{User: usr}
	prof, err := svc.repo.GetProfile(ctx, id)
	switch {
	case err == nil:
		acc.Profile = &prof
	case !core.IsNotFound(err):
		return Account{}, errors.Wrap(err, "getting profile")
	}
	return acc, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	ordering = core.MapOrderings(ordering, OrderingFields)
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	users, err := svc.repo.QueryUsers(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	if len(users) == 0 {
		return []Account{}, nil
	}

	ids := make([]string, len(users))
	for i, usr := range users {
		ids[i] = usr.ID
	}
	profs, err := svc.repo.QueryProfiles(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	byUser := make(map[string]Profile, len(profs))
	for _, p := range profs {
		byUser[p.UserID] = p
	}

	accs := make([]Account, len(users))
	for i, usr := range users {
		accs[i] = Account{User: usr}
		if p, ok := byUser[usr.ID]; ok {
			accs[i].Profile = &p
		}
	}
	return accs, nil
}

// Update saves uu over user id. Role and permissions are only replaced when provided.
func (svc *Service) Update(ctx context.Context, id string, uu UpdateUser) (Account, error) {
	usr := User{
		ID:        id,
		Name:      uu.Name,
		Username:  uu.Username,
		Email:     uu.Email,
		UpdatedAt: time.Now().UTC(),
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return Account{}, errors.Wrap(err, "setting password")
		}
	}
	usr, err := svc.repo.UpdateUser(ctx, usr, uu.IsActive)
	if err != nil {
		if core.IsNotFound(err) {
			return Account{}, ErrNotFound
		}
		return Account{}, errors.Wrap(err, "updating user")
	}

	if uu.Role != "" || uu.Permissions != nil {
		if err = svc.updateProfile(ctx, id, uu); err != nil {
			return Account{}, err
		}
	}
	return svc.GetAccount(ctx, usr.ID)
}

func (svc *Service) updateProfile(ctx context.Context, id string, uu UpdateUser) error {
	prof, err := svc.repo.GetProfile(ctx, id)
	if err != nil && !core.IsNotFound(err) {
		return errors.Wrap(err, "getting profile")
	}
	prof.UserID = id
	if uu.Role != "" {
		prof.Role = uu.Role
	}
	if uu.Permissions != nil {
		prof.Permissions = authz.ParsePermissions(uu.Permissions...)
	}
	if prof.Role == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "this field is required"})
	}
	prof.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.SaveProfile(ctx, prof)
	return errors.Wrap(err, "saving profile")
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	if err := svc.repo.SetLastLogin(ctx, usr.ID, now); err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}
	usr.LastLogin = null.TimeFrom(now)
	return usr, nil
}

// Delete removes users after revoking all of their sessions.
func (svc *Service) Delete(ctx context.Context, by string, ids ...string) error {
	for _, id := range ids {
		if _, err := svc.sessions.RevokeUser(ctx, id, by); err != nil {
			return errors.Wrapf(err, "revoking sessions of %s", id)
		}
	}
	_, err := svc.repo.DeleteUsersByID(ctx, ids...)
	return errors.Wrap(err, "deleting users")
}

// EffectiveProfile returns the stored profile of usr, or the super admin fail-safe when it cannot be read.
func (svc *Service) EffectiveProfile(ctx context.Context, usr User) (Profile, error) {
	prof, err := svc.repo.GetProfile(ctx, usr.ID)
	if err == nil {
		return prof, nil
	}
	if IsSuperAdminEmail(usr.Email) {
		if !core.IsNotFound(err) {
			svc.logger.Warn("reading super admin profile", errors.Wrap(err, "getting profile"), usr.Person())
		}
		return SuperAdminProfile(usr.ID), nil
	}
	if core.IsNotFound(err) {
		return Profile{}, ErrProfileNotFound
	}
	return Profile{}, errors.Wrap(err, "getting profile")
}

// WatchProfile streams snapshots of the stored profile of a user.
func (svc *Service) WatchProfile(ctx context.Context, userID string) (<-chan core.Snapshot[Profile], func()) {
	return core.Watch(ctx, svc.notifier, TopicProfiles, userID, func(ctx context.Context) (Profile, error) {
		return svc.repo.GetProfile(ctx, userID)
	})
}

func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.goFunc(func() { svc.sendPasswordResetMail(usr) })
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	token, err := MakeToken(usr)
	if err != nil {
		svc.logger.Error("making password reset token", err, usr.Person())
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(ErrInvalidToken)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewValidationError(ErrInvalidToken)
		}
		return err
	}
	if err = verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(ErrInvalidToken)
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return errors.Wrap(err, "updating user")
}
