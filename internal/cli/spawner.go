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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tombee/souschef/pkg/engine"
)

// commandSpawner adapts an external agent-spawner command to the engine's
// Spawner interface. The instruction arrives on stdin; the agent name and
// session id arrive as environment variables; stdout is the agent output.
// If stdout is a JSON object it is passed through as the result record,
// otherwise it is wrapped as {"output": <stdout>}.
type commandSpawner struct {
	command string
}

func newCommandSpawner(command string) *commandSpawner {
	return &commandSpawner{command: command}
}

// Spawn implements engine.Spawner.
func (s *commandSpawner) Spawn(ctx context.Context, req engine.SpawnRequest) (any, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", s.command)
	cmd.Stdin = strings.NewReader(req.Instruction)
	cmd.Env = append(os.Environ(),
		"SOUSCHEF_AGENT="+req.Agent,
		"SOUSCHEF_SESSION="+req.ParentSession,
	)
	if len(req.AgentConfig) > 0 {
		if data, err := json.Marshal(req.AgentConfig); err == nil {
			cmd.Env = append(cmd.Env, "SOUSCHEF_AGENT_CONFIG="+string(data))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("spawn command failed: %s", msg)
	}

	out := stdout.String()
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
			if _, ok := record["output"]; ok {
				return record, nil
			}
		}
	}
	return map[string]any{"output": out}, nil
}
