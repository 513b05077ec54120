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
	"io"
)

// consoleDisplay renders engine progress messages to the terminal with the
// shared style palette.
type consoleDisplay struct {
	out   io.Writer
	quiet bool
}

func newConsoleDisplay(out io.Writer, quiet bool) *consoleDisplay {
	return &consoleDisplay{out: out, quiet: quiet}
}

// ShowMessage implements engine.Display.
func (d *consoleDisplay) ShowMessage(message, level, _ string) {
	if d.quiet && level == "info" {
		return
	}
	switch level {
	case "warning":
		fmt.Fprintln(d.out, StatusWarn.Render(message))
	case "error":
		fmt.Fprintln(d.out, StatusError.Render(message))
	default:
		fmt.Fprintln(d.out, message)
	}
}
