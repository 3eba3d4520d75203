package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions in server order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			if err := ctrl.RefreshSessions(cmd.Context()); err != nil {
				return err
			}
			st := ctrl.Snapshot()
			for _, s := range st.Sessions {
				fmt.Printf("%d\t%s\n", s.ID, s.Name)
			}
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a named session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			if err := ctrl.RefreshSessions(cmd.Context()); err != nil {
				return err
			}
			s, err := ctrl.CreateSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created session %d\t%s\n", s.ID, s.Name)
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(createCmd)
	return cmd
}
