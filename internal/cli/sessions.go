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

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recipe sessions for this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			summaries, err := app.runner.List()
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				return printJSON(summaries)
			}

			if len(summaries) == 0 {
				fmt.Println(RenderLabel("no sessions"))
				return nil
			}
			for _, s := range summaries {
				status := s.Status
				switch status {
				case "cancelled":
					status = StatusWarn.Render(status)
				case "paused_for_approval":
					status = StatusInfo.Render(status)
				}
				fmt.Printf("%s  %s %s  %s  %d steps",
					s.SessionID, Bold.Render(s.RecipeName), RenderLabel("v"+s.RecipeVersion),
					status, s.CompletedSteps)
				if s.PendingStage != "" {
					fmt.Printf("  %s", RenderLabel("stage: "+s.PendingStage))
				}
				fmt.Println()
			}
			return nil
		},
	}
}
