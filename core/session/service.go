package session

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Topic is the notification topic of session records; keys are session ids.
const Topic = "sessions"

var (
	// errors
	ErrNotFound    = core.NewNotFoundError("session not found")
	ErrSelfRevoke  = errors.New("a session cannot revoke itself")
	ErrNotActive   = errors.New("session is not active")
	errMissingUser = errors.New("session requires a user")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// TouchSession sets last_active to at, only if the session is active and at is newer.
		TouchSession(ctx context.Context, id string, at time.Time) error
		// RevokeSession moves an active session to revoked and returns the stored record.
		// An already revoked session is returned untouched.
		RevokeSession(ctx context.Context, id string, at time.Time, by string) (Session, error)
		RevokeUserSessions(ctx context.Context, userID string, at time.Time, by string) (int, error)
		// QueryRecentSessions returns sessions by creation time, most recent first.
		QueryRecentSessions(ctx context.Context, filter QueryFilter) ([]Session, error)
		CreateActivity(ctx context.Context, a Activity) (Activity, error)
		// QueryActivities returns a session's activity, most recent first.
		QueryActivities(ctx context.Context, sessionID string, limit int) ([]Activity, error)
	}

	Service struct {
		repo     Repository
		notifier core.Notifier
		mailSvc  core.EmailService
		logger   core.Logger
		NowFunc  func() time.Time // mockable
	}
)

func NewService(repo Repository, notifier core.Notifier, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		mailSvc:  mailSvc,
		logger:   logger,
		NowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// Create opens an active session at sign-in.
func (svc *Service) Create(ctx context.Context, ns NewSession) (Session, error) {
	if ns.UserID == "" {
		return Session{}, errMissingUser
	}
	s := Session{
		ID:        uuid.New().String(),
		UserID:    ns.UserID,
		Email:     ns.Email,
		Device:    DeviceClass(ns.UserAgent),
		IP:        ns.IP,
		Location:  ns.Location,
		CreatedAt: svc.NowFunc(),
		Status:    StatusActive,
	}
	s, err := svc.repo.CreateSession(ctx, s)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	svc.RecordActivity(ctx, s.ID, ActionLogin, s.Email, s.Device+" "+s.IP)

	if core.Conf.Server.SignInAlerts && ns.Email != "" {
		go svc.sendSignInAlert(ns.Name, s)
	}
	return s, nil
}

func (svc *Service) sendSignInAlert(name string, s Session) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: s.Email}},
		Subject:      "New sign-in to the admin panel",
		TemplateName: "signin_alert",
		TemplateData: map[string]interface{}{
			"Name":   name,
			"Device": s.Device,
			"IP":     s.IP,
			"When":   s.CreatedAt.Format(time.RFC1123),
		},
	})
}

func (svc *Service) Get(ctx context.Context, id string) (Session, error) {
	s, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, errors.Wrap(err, "getting session")
	}
	return s, nil
}

// Heartbeat marks the session as seen now. It fails with ErrNotActive on a revoked session.
func (svc *Service) Heartbeat(ctx context.Context, id string) error {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.IsActive() {
		return ErrNotActive
	}
	return errors.Wrap(svc.repo.TouchSession(ctx, id, svc.NowFunc()), "touching session")
}

// Revoke revokes session id on behalf of actor. Revoking a revoked session reports the stored record.
func (svc *Service) Revoke(ctx context.Context, id string, actor Actor) (Session, error) {
	if id == actor.SessionID {
		return Session{}, ErrSelfRevoke
	}
	if _, err := svc.Get(ctx, id); err != nil {
		return Session{}, err
	}
	s, err := svc.repo.RevokeSession(ctx, id, svc.NowFunc(), actor.UserID)
	if err != nil {
		return Session{}, errors.Wrap(err, "revoking session")
	}
	svc.RecordActivity(ctx, actor.SessionID, ActionRevoke, "session "+id, s.Email)
	return s, nil
}

// RevokeUser revokes every active session of a user, eg. when the user is deleted.
func (svc *Service) RevokeUser(ctx context.Context, userID, by string) (int, error) {
	n, err := svc.repo.RevokeUserSessions(ctx, userID, svc.NowFunc(), by)
	return n, errors.Wrap(err, "revoking user sessions")
}

// ListRecent returns the most recent sessions with their presence.
func (svc *Service) ListRecent(ctx context.Context, includeRevoked bool, currentID string) ([]View, error) {
	sessions, err := svc.repo.QueryRecentSessions(ctx, QueryFilter{
		IncludeRevoked: includeRevoked,
		Limit:          core.Conf.Session.RecentLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying recent sessions")
	}

	now := svc.NowFunc()
	views := make([]View, len(sessions))
	for i, s := range sessions {
		views[i] = View{
			Session:  s,
			Presence: s.Presence(now, core.Conf.Session.OnlineThreshold),
			Current:  s.ID == currentID,
		}
	}
	return views, nil
}

// RecordActivity appends to the activity trail of a session. Failures are only logged.
func (svc *Service) RecordActivity(ctx context.Context, sessionID, action, target, details string) {
	if sessionID == "" {
		return
	}
	_, err := svc.repo.CreateActivity(ctx, Activity{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Action:    action,
		Target:    target,
		Details:   details,
		Timestamp: svc.NowFunc(),
	})
	if err != nil {
		svc.logger.Warn("recording activity", errors.Wrap(err, "creating activity"), map[string]interface{}{
			"session": sessionID,
			"action":  action,
		})
	}
}

func (svc *Service) Activities(ctx context.Context, sessionID string) ([]Activity, error) {
	acts, err := svc.repo.QueryActivities(ctx, sessionID, core.Conf.Session.ActivityLimit)
	return acts, errors.Wrap(err, "querying activities")
}

// Watch streams snapshots of session id. Once revoked is observed, no later snapshot reports it active.
func (svc *Service) Watch(ctx context.Context, id string) (<-chan core.Snapshot[Session], func()) {
	ctx, cancel := context.WithCancel(ctx)
	in, stop := core.Watch(ctx, svc.notifier, Topic, id, func(ctx context.Context) (Session, error) {
		return svc.repo.GetSession(ctx, id)
	})

	out := make(chan core.Snapshot[Session], 1)
	go func() {
		defer close(out)
		var revoked *Session
		for snap := range in {
			switch {
			case snap.Found && snap.Value.IsRevoked():
				s := snap.Value
				revoked = &s
			case snap.Found && revoked != nil:
				snap.Value = *revoked
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() {
		cancel()
		stop()
	}
}
