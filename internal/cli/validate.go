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

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <recipe.yaml>",
		Short: "Check a recipe file against the structural rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			rec, problems, err := app.runner.Validate(args[0])
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				return printJSON(map[string]any{
					"name":     rec.Name,
					"version":  rec.Version,
					"valid":    len(problems) == 0,
					"problems": problems,
				})
			}

			header := fmt.Sprintf("%s %s", rec.Name, RenderLabel("v"+rec.Version))
			if len(problems) == 0 {
				fmt.Println(RenderOK(header + " is valid"))
				fmt.Printf("%s %d\n", RenderLabel("steps:"), len(rec.AllSteps()))
				if rec.IsStaged() {
					fmt.Printf("%s %d\n", RenderLabel("stages:"), len(rec.Stages))
				}
				return nil
			}

			fmt.Println(RenderError(header + " has problems:"))
			for _, p := range problems {
				fmt.Println("  " + SymbolInfo + " " + p)
			}
			return fmt.Errorf("%d validation problems", len(problems))
		},
	}
}
