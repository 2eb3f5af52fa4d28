package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agendasalud/authd/internal/domain/password"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Generate an argon2id digest for a password",
	Long: `Generate an argon2id digest of a password.

The output is a PHC-format string that can be inserted directly into the
users.password_hash column, for seeding or manual account repair.

Example:
  authd hash-password "my-secret-password"

Security note: The password will appear in shell history.
Consider clearing history after use or using an environment variable:
  authd hash-password "$MY_PASSWORD"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, err := password.NewHasher().Hash(args[0])
		if err != nil {
			return err
		}
		fmt.Println(digest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
