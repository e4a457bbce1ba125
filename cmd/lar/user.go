package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/larcrm/internal/db"
	"github.com/zulandar/larcrm/internal/models"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minPasswordLen = 8

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Staff account commands",
	}

	cmd.AddCommand(newUserAddCmd())
	return cmd
}

type userAddOpts struct {
	configPath string
	name       string
	email      string
	role       string
	phone      string
}

func newUserAddCmd() *cobra.Command {
	var opts userAddOpts

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a staff account",
		Long: `Creates an admin or corretor account, or updates the existing account with
the same email. The password is prompted for without echo; when stdin is not
a terminal it is read from the first line of stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			return runUserAdd(cmd, opts, password)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&opts.role, "role", "corretor", "admin or corretor")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "contact phone")
	return cmd
}

func (o *userAddOpts) validate() error {
	o.name = strings.TrimSpace(o.name)
	o.email = strings.ToLower(strings.TrimSpace(o.email))
	switch {
	case o.name == "":
		return fmt.Errorf("--name is required")
	case o.email == "" || !strings.Contains(o.email, "@"):
		return fmt.Errorf("--email must be a valid address")
	case o.role != "admin" && o.role != "corretor":
		return fmt.Errorf("--role must be admin or corretor, got %q", o.role)
	}
	return nil
}

// readPassword prompts on the terminal without echo, or reads one line from
// stdin when it is piped.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	var password string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must have at least %d characters", minPasswordLen)
	}
	return password, nil
}

func runUserAdd(cmd *cobra.Command, opts userAddOpts, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, gormDB, err := connectFromConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	u := &models.User{
		Name:         opts.name,
		Email:        opts.email,
		PasswordHash: string(hash),
		Role:         opts.role,
		Phone:        opts.phone,
		Active:       true,
	}
	if err := db.SeedUser(gormDB, u); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "User %s (%s) saved\n", u.Email, u.Role)
	return nil
}
