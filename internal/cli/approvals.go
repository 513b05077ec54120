// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApprovalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approvals",
		Short: "List sessions waiting at an approval gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			pending, err := app.runner.Approvals()
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				return printJSON(pending)
			}

			if len(pending) == 0 {
				fmt.Println(RenderLabel("no pending approvals"))
				return nil
			}
			for _, p := range pending {
				fmt.Printf("%s  %s  %s\n",
					p.SessionID, Bold.Render(p.RecipeName),
					StatusInfo.Render("stage: "+p.Approval.StageName))
				fmt.Println("  " + p.Approval.Prompt)
				if p.Approval.Timeout > 0 {
					fmt.Printf("  %s %ds, default %s\n",
						RenderLabel("timeout:"), p.Approval.Timeout, p.Approval.Default)
				}
			}
			return nil
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <session-id> <stage-name>",
		Short: "Approve a paused stage so the session can resume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			outcome, err := app.runner.Approve(args[0], args[1])
			if err != nil {
				return err
			}
			return printOutcome(outcome)
		},
	}
}

func newDenyCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "deny <session-id> <stage-name>",
		Short: "Deny a paused stage, failing the session on its next resume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			outcome, err := app.runner.Deny(args[0], args[1], reason)
			if err != nil {
				return err
			}
			return printOutcome(outcome)
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason for the denial")
	return cmd
}
