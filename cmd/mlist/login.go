package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/mlist/internal/credential"
	"github.com/nhle/mlist/internal/source/email"
)

func loginCmd(e *env) *cobra.Command {
	var remove, check bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the account password in the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := e.account()
			if err != nil {
				return err
			}
			key := credential.AccountKey(acct.ID)

			if remove {
				if err := credential.Delete(key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed password of %s\n", acct.ID)
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s@%s: ", acct.Username, acct.Host)
			password, err := readPassword()
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			if password == "" {
				return fmt.Errorf("empty password")
			}

			if check {
				c, err := email.NewIMAPClient(*acct, password).Connect(&imapclient.UnilateralDataHandler{})
				if err != nil {
					return err
				}
				if err := c.Logout().Wait(); err != nil {
					e.log.Debug().Err(err).Msg("logout after check")
				}
				c.Close()
			}

			if err := credential.Set(key, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved password of %s\n", acct.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Delete the stored password")
	cmd.Flags().BoolVar(&check, "check", true, "Log in to the server before saving")
	return cmd
}

// readPassword reads without echo from a terminal, or one line from a
// pipe.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
