package user

import (
	"github.com/trezcool/campus/core"
)

// NewServiceMock returns a Service that runs its background work (eg. emails) synchronously.
func NewServiceMock(
	repo Repository,
	notifier core.Notifier,
	sessions SessionRevoker,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	svc := NewService(repo, notifier, sessions, mailSvc, logger)
	svc.goFunc = func(f func()) { f() }
	return svc
}
