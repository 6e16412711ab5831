package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lockstep/internal/auth"

	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash an admin password for the config file",
	Long: `Hash a password with bcrypt for the auth.password_bcrypt config
field. The password is taken from the argument, or read from stdin
when no argument is given:

  echo -n 'secret' | lockstep hash-password`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password is empty")
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash failed: %w", err)
		}

		fmt.Println(hash)
		fmt.Fprintln(os.Stderr, "Put this value in the auth.password_bcrypt config field.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
