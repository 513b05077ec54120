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
	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	var immediate bool

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Request cancellation of a running session",
		Long: `Request cancellation of a running session.

Graceful cancellation (the default) lets the in-flight step finish and
stops before the next one. --immediate stops at the next poll without
waiting for the current step. Repeating a graceful request upgrades it
to immediate. Cancelled sessions stay resumable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			outcome, err := app.runner.Cancel(args[0], immediate)
			if err != nil {
				return err
			}
			return printOutcome(outcome)
		},
	}

	cmd.Flags().BoolVarP(&immediate, "immediate", "i", false, "Stop without waiting for the current step")
	return cmd
}
