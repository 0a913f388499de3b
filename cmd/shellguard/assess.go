package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrijr/shellguard/pkg/api"
	"github.com/petrijr/shellguard/pkg/risk"
)

func newAssessCmd(a *app) *cobra.Command {
	var (
		assessor string
		kind     string
	)
	cmd := &cobra.Command{
		Use:   "assess [flags] -- <command>",
		Short: "Score a command without running it",
		Example: `  shellguard assess -- rm -rf /tmp/build
  shellguard assess --type COMBO CTRL+C`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			name := cfg.Engine.Assessor
			if assessor != "" {
				name = assessor
			}
			ra, err := risk.NewRegistry().Build(name, risk.Options{
				Rules:    cfg.RiskRules(),
				Logger:   a.logger(cmd, cfg),
				Children: cfg.Engine.Composite,
			})
			if err != nil {
				return err
			}

			msg := api.CommandMessage{
				ID:        "assess",
				Origin:    "cli",
				Command:   strings.ToUpper(kind),
				Parameter: strings.Join(args, " "),
			}
			assessment := ra.AssessRisk(cmd.Context(), msg)
			fmt.Fprintf(cmd.OutOrStdout(), "score=%d level=%s requires_approval=%t\n",
				assessment.Score, assessment.Level, ra.RequiresApproval(assessment))
			return nil
		},
	}
	cmd.Flags().StringVar(&assessor, "assessor", "", "Assessor name (default from config)")
	cmd.Flags().StringVar(&kind, "type", api.CommandText, "Command type: TEXT, LINE, KEY or COMBO")
	return cmd
}
