package cmds

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/ui"
)

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging(cmd, true)

			ctrl, _, err := buildController(cmd)
			if err != nil {
				return err
			}
			if ctrl.Snapshot().LoggedIn {
				// Stale lists and expired tokens both resolve here; failures
				// only leave the sidebar empty.
				_ = ctrl.RefreshSessions(cmd.Context())
			}

			p := tea.NewProgram(
				ui.New(ctrl),
				tea.WithAltScreen(),
				tea.WithMouseCellMotion(),
			)
			ctrl.SetNotify(func() {
				p.Send(ui.StateChangedMsg{})
			})

			if _, err := p.Run(); err != nil {
				return errors.Wrap(err, "run chat UI")
			}
			return nil
		},
	}
}
