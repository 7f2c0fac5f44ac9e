package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/evcraddock/street-kams/internal/auth"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage KAM accounts",
		Long:  "Add, list and remove the accounts allowed to record visits. Works directly on the server's database.",
	}
	cmd.AddCommand(newUsersAddCmd(), newUsersListCmd(), newUsersRemoveCmd(), newUsersPasswdCmd())
	return cmd
}

func newUsersAddCmd() *cobra.Command {
	var name, password string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				password, err = promptPassword(cmd.InOrStdin(), nil, cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			u, err := auth.NewUserStore(database).Add(args[0], name, password)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added %s\n", u.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")

	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			users, err := auth.NewUserStore(database).List()
			if err != nil {
				return err
			}
			if isJSON() {
				if users == nil {
					users = []*auth.User{}
				}
				return printJSON(cmd.OutOrStdout(), users)
			}
			return printUserTable(cmd.OutOrStdout(), users)
		},
	}
}

func newUsersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an account and its sessions, keys and passkeys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			if err := auth.NewUserStore(database).Delete(args[0]); err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					return fmt.Errorf("no account for %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", args[0])
			return nil
		},
	}
}

func newUsersPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <email>",
		Short: "Set an account's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				password, err = promptPassword(cmd.InOrStdin(), nil, cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			if err := auth.NewUserStore(database).SetPassword(args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Password updated for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")

	return cmd
}

// promptPassword prints a prompt to out and reads a password. When in is a
// terminal the password is read without echo; otherwise one line is read
// from lines, or from in when lines is nil.
func promptPassword(in io.Reader, lines *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")

	if f, ok := in.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	if lines == nil {
		lines = bufio.NewReader(in)
	}
	line, err := lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprintln(out)
	return strings.TrimRight(line, "\r\n"), nil
}

func printUserTable(out io.Writer, users []*auth.User) error {
	if len(users) == 0 {
		fmt.Fprintln(out, "No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "EMAIL\tNAME\tCREATED"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "-"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", u.Email, name, u.CreatedAt.Local().Format("2006-01-02")); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}
	return w.Flush()
}
