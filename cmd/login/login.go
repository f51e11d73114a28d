package login

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/donantes/edge/cmd/helpers"
)

var (
	flagEmail    string
	flagPassword string
	flagRegister bool

	LoginCmd = &cobra.Command{
		Use:   "login",
		Short: "Sign in through a running edge agent",
		RunE:  runLogin,
	}

	LogoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored tokens",
		RunE:  runLogout,
	}
)

func init() {
	LoginCmd.Flags().StringVarP(&flagEmail, "email", "e", "", "Account email")
	LoginCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Account password")
	LoginCmd.Flags().BoolVar(&flagRegister, "register", false, "Create the account instead of signing in")
	LoginCmd.MarkFlagRequired("email")
	LoginCmd.MarkFlagRequired("password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"email":    flagEmail,
		"password": flagPassword,
		"register": flagRegister,
	}

	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := helpers.CallAgent(cmd.Context(), http.MethodPost, "/sys/login", body, &resp); err != nil {
		return err
	}

	fmt.Println("Login successful.")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := helpers.CallAgent(cmd.Context(), http.MethodPost, "/sys/logout", nil, nil); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}
