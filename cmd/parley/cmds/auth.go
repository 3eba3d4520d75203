package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the returned credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			if err := ctrl.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			st := ctrl.Snapshot()
			fmt.Printf("signed in as %s\n", st.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var username, password, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and persist the returned credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			if err := ctrl.Register(cmd.Context(), username, password, email); err != nil {
				return err
			}
			st := ctrl.Snapshot()
			fmt.Printf("registered as %s\n", st.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (optional)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear persisted credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			ctrl.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}
