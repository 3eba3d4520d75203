package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/chat"
)

func newAskCommand() *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send one prompt and stream the reply to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if err := ctrl.RefreshSessions(ctx); err != nil {
				return err
			}
			if sessionID > 0 {
				if err := ctrl.SelectSession(ctx, sessionID); err != nil {
					return err
				}
			} else if st := ctrl.Snapshot(); len(st.Sessions) > 0 {
				if err := ctrl.SelectSession(ctx, st.Sessions[0].ID); err != nil {
					return err
				}
			}

			ex, err := ctrl.SubmitPrompt(ctx, args[0])
			if err != nil {
				return errors.Wrap(err, "submit prompt")
			}

			// Print fragments as they arrive while feeding the controller,
			// which reconciles against server history on done.
			sawDone := false
			for ev := range ex.Events() {
				switch e := ev.(type) {
				case chat.ChunkEvent:
					fmt.Print(e.Text)
				case chat.DoneEvent:
					sawDone = true
				}
				ctrl.HandleEvent(ctx, ev)
			}
			fmt.Println()
			if !sawDone {
				fmt.Println("(connection closed before the reply completed)")
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "target session id (default: first session, or a new one)")
	return cmd
}
