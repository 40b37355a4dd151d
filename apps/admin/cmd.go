package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/campus/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db       *sql.DB
	usrRepo  user.Repository
	sessions user.SessionRevoker
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS...] - run a goose command (up, down, status, redo, version...) on the database")
	fmt.Println("  adduser -email EMAIL -name NAME [-username USERNAME] [-role ROLE] [-permissions all|CAP,CAP] - create or update an admin user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  revokesessions -username USERNAME|EMAIL - sign a user out of every session")
}

func readPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	return string(pwd), err
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserRole := addUserCmd.String("role", "super_admin", "The user's role.")
	addUserPerms := addUserCmd.String("permissions", "all", "Comma separated capabilities, or `all`.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	revokeCmd := flag.NewFlagSet("revokesessions", flag.ContinueOnError)
	revokeUname := revokeCmd.String("username", "", "The user's username or email.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserEmail == "" || *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(newAdmin{
			name:        *addUserName,
			username:    *addUserUname,
			email:       *addUserEmail,
			password:    pwd,
			role:        *addUserRole,
			permissions: []string{*addUserPerms},
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "revokesessions":
		if err := revokeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *revokeUname == "" {
			revokeCmd.Usage()
			return errHelp
		}
		n, err := cli.revokeSessions(*revokeUname)
		if err != nil {
			return err
		}
		fmt.Printf("%d session(s) revoked\n", n)
		return nil

	default:
		cli.printUsage()
		return errHelp
	}
}
