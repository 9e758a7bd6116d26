package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/UkemeSkywalker/Quanta/internal/client"
	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

func (c *cli) api() *client.HTTPClient {
	return client.NewHTTPClient(c.cfg.Client.APIURL, c.token)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSubmitCmd(c *cli) *cobra.Command {
	var (
		user     string
		priority int
	)
	cmd := &cobra.Command{
		Use:   "submit <query...>",
		Short: "Submit a research query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wr, err := c.api().Submit(cmd.Context(), protocol.ResearchQuery{
				Query:    strings.Join(args, " "),
				UserID:   user,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wr)
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "user id")
	cmd.Flags().IntVar(&priority, "priority", 1, "priority (1-5)")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show a workflow's status, or the socket status without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				st, err := c.api().SocketStatus(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}
			st, err := c.api().WorkflowStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newHealthCmd(c *cli) *cobra.Command {
	var info bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if info {
				resp, err := c.api().Info(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			}
			resp, err := c.api().Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&info, "info", false, "show service info instead")
	return cmd
}

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(c.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
