package main

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/UkemeSkywalker/Quanta/internal/app"
	"github.com/UkemeSkywalker/Quanta/internal/client"
	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/UkemeSkywalker/Quanta/internal/session"
)

var errNoTarget = errors.New("a query or --workflow is required")

func newWatchCmd(c *cli) *cobra.Command {
	var (
		workflowID string
		user       string
		priority   int
		style      string
	)
	cmd := &cobra.Command{
		Use:   "watch [query...]",
		Short: "Submit a query (or pick a workflow) and follow it live",
		Long: `Opens the terminal UI on a live session.

With a query, the query is submitted first and the new workflow is followed.
With --workflow, an existing workflow is followed.

Keys: r reconnect, x reset, d message log, c clear log, q quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			topic := workflowID
			if topic == "" {
				query := strings.TrimSpace(strings.Join(args, " "))
				if query == "" {
					return errNoTarget
				}
				api := client.NewHTTPClient(c.cfg.Client.APIURL, c.token)
				wr, err := api.Submit(ctx, protocol.ResearchQuery{Query: query, UserID: user, Priority: priority})
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				topic = wr.WorkflowID
				c.logger.Info().Str("workflow_id", topic).Msg("query submitted")
			}

			url, err := session.Endpoint(c.cfg.SocketBase(), c.cfg.Client.ClientID)
			if err != nil {
				return err
			}
			w := client.NewWatcher(client.WatcherOptions{
				Session:     sessionOptions(c.cfg.Client, url, c.logger),
				Topic:       topic,
				LogCapacity: 1000,
				Logger:      c.logger,
			})
			defer func() {
				w.Close()
				<-w.Manager.Done()
			}()

			m := app.New(w, app.Options{ClientID: c.cfg.Client.ClientID, Topic: topic, GlamourStyle: style})
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "follow an existing workflow instead of submitting")
	cmd.Flags().StringVar(&user, "user", "cli", "user id for submitted queries")
	cmd.Flags().IntVar(&priority, "priority", 1, "priority for submitted queries (1-5)")
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style for workflow messages (dark, light, notty)")
	return cmd
}
