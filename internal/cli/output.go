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
	"encoding/json"
	"fmt"
	"os"

	"github.com/tombee/souschef/pkg/engine"
)

// printOutcome renders an operation outcome, as JSON when --json is set.
func printOutcome(outcome *engine.Outcome) error {
	if flags.jsonOutput {
		return printJSON(outcome)
	}

	switch outcome.Status {
	case "success":
		if outcome.Message != "" {
			fmt.Println(RenderOK(outcome.Message))
		} else {
			fmt.Println(RenderOK("completed"))
		}
	case "paused":
		fmt.Println(StatusWarn.Render("⏸ " + outcome.Message))
		fmt.Println(RenderLabel("approve with:") + " souschef approve " + outcome.SessionID + " " + outcome.StageName)
		fmt.Println(RenderLabel("deny with:   ") + " souschef deny " + outcome.SessionID + " " + outcome.StageName)
	case "cancelled":
		fmt.Println(RenderWarn(outcome.Message))
	default:
		fmt.Println(outcome.Message)
	}

	if outcome.SessionID != "" {
		fmt.Println(RenderLabel("session:") + " " + outcome.SessionID)
	}
	if outcome.Summary != nil {
		printSummary(outcome.Summary)
	}
	return nil
}

func printSummary(summary map[string]any) {
	if v, ok := summary["final_output"]; ok {
		fmt.Println(Header.Render("Final output") + RenderLabel(fmt.Sprintf(" (%v)", summary["final_output_key"])))
		switch t := v.(type) {
		case string:
			fmt.Println(t)
		default:
			data, err := json.MarshalIndent(t, "", "  ")
			if err == nil {
				fmt.Println(string(data))
			} else {
				fmt.Println(v)
			}
		}
	}
	if outputs, ok := summary["available_outputs"].([]string); ok && len(outputs) > 0 {
		fmt.Print(RenderLabel("outputs: "))
		for i, k := range outputs {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(k)
		}
		fmt.Println()
	}
	if loc, ok := summary["full_results_location"]; ok {
		fmt.Println(RenderLabel("full results:") + fmt.Sprintf(" %v", loc))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
