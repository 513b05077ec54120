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
	"strings"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var contextPairs []string

	cmd := &cobra.Command{
		Use:   "run <recipe.yaml>",
		Short: "Execute a recipe from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}

			userContext, err := parseContextPairs(contextPairs)
			if err != nil {
				return err
			}

			outcome, err := app.runner.Execute(cmd.Context(), args[0], userContext)
			if err != nil {
				return err
			}
			return printOutcome(outcome)
		},
	}

	cmd.Flags().StringArrayVarP(&contextPairs, "context", "c", nil, "Initial context entries as key=value (repeatable)")
	return cmd
}

// parseContextPairs turns repeated key=value flags into a context map.
func parseContextPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	ctx := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context entry %q, expected key=value", pair)
		}
		ctx[key] = value
	}
	return ctx, nil
}
