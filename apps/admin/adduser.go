package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/user"
)

type newAdmin struct {
	name, username, email, password string
	role                            string
	permissions                     []string
}

// addUser updates or creates an active user.User with its profile.
func (cli *commandLine) addUser(na newAdmin) error {
	ctx := context.Background()
	email := core.CleanString(na.email, true /* lower */)
	uname := core.CleanString(na.username, true /* lower */)
	role := core.CleanString(na.role, true /* lower */)
	if !authz.IsKnownRole(role) {
		return errors.Errorf("unknown role %q", role)
	}
	perms := authz.ParsePermissions(na.permissions...)
	if unknown := perms.Unknown(); len(unknown) > 0 {
		return errors.Errorf("unknown capabilities %v", unknown)
	}

	lookup := email
	if uname != "" {
		lookup = uname
	}
	now := time.Now().UTC()
	active := true

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	switch {
	case err == nil:
		usr.Name = core.CleanString(na.name)
		usr.Email = email
		if uname != "" {
			usr.Username = uname
		}
		usr.UpdatedAt = now
		if err = usr.SetPassword(na.password); err != nil {
			return err
		}
		if usr, err = cli.usrRepo.UpdateUser(ctx, usr, &active); err != nil {
			return errors.Wrap(err, "updating user")
		}
	case core.IsNotFound(err):
		usr = user.User{
			ID:        uuid.New().String(),
			Name:      core.CleanString(na.name),
			Username:  uname,
			Email:     email,
			IsActive:  active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = usr.SetPassword(na.password); err != nil {
			return err
		}
		if usr, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "creating user")
		}
	default:
		return errors.Wrap(err, "getting user")
	}

	_, err = cli.usrRepo.SaveProfile(ctx, user.Profile{
		UserID:      usr.ID,
		Role:        role,
		Permissions: perms,
		UpdatedAt:   now,
	})
	return errors.Wrap(err, "saving profile")
}
