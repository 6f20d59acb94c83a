package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/users"
)

var (
	userRole     string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage dashboard accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a dashboard account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, err := openStore("user")
		if err != nil {
			return err
		}
		defer st.Close()

		password, err := resolvePassword(cmd)
		if err != nil {
			return err
		}
		u, err := users.NewService(st, cfg.Location()).Create(cmdContext(cmd), args[0], password, userRole)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", u.Username, u.Role)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Set the password of a dashboard account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, err := openStore("user")
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmdContext(cmd)
		u, err := st.GetUserByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		if u == nil {
			return apperr.NotFound("user", args[0])
		}
		password, err := resolvePassword(cmd)
		if err != nil {
			return err
		}
		if err := users.NewService(st, cfg.Location()).ChangePassword(ctx, u.ID, password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", u.Username)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userRole, "role", users.RoleViewer, "account role (admin or viewer)")
	for _, c := range []*cobra.Command{userAddCmd, userPasswdCmd} {
		c.Flags().StringVar(&userPassword, "password", "", "password (prompted for when omitted)")
		userCmd.AddCommand(c)
	}
}

// resolvePassword returns --password, or prompts on a terminal, or reads the
// first line of stdin.
func resolvePassword(cmd *cobra.Command) (string, error) {
	if userPassword != "" {
		return userPassword, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
