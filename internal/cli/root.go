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

// Package cli wires the souschef commands: running and resuming recipes,
// listing sessions, validating recipe files, and driving approval gates and
// cancellation.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/engine"
	"github.com/tombee/souschef/pkg/session"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c string) {
	version = v
	commit = c
}

// appFlags holds the global flag values shared by all commands.
type appFlags struct {
	projectPath string
	sessionsDir string
	spawnCmd    string
	quiet       bool
	jsonOutput  bool
}

var flags appFlags

// NewRootCommand creates the root Cobra command for souschef.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "souschef",
		Short: "souschef - durable recipe engine for AI-agent workflows",
		Long: `souschef executes multi-step agent recipes with checkpointing after
every step. Interrupted runs resume from the last checkpoint; staged
recipes pause after gated stages for human approval.

Agent steps are dispatched through an external spawner command
(--spawn-cmd), which receives the prompt on stdin and returns the
agent output on stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version + " (" + commit + ")",
	}

	cmd.PersistentFlags().StringVarP(&flags.projectPath, "project", "p", "", "Project path scoping sessions (default: current directory)")
	cmd.PersistentFlags().StringVar(&flags.sessionsDir, "sessions-dir", "", "Session storage directory (default: ~/.souschef/sessions)")
	cmd.PersistentFlags().StringVar(&flags.spawnCmd, "spawn-cmd", "", "Command that spawns agents (reads prompt on stdin, writes output to stdout)")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Output results in JSON format")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newResumeCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newApprovalsCommand())
	cmd.AddCommand(newApproveCommand())
	cmd.AddCommand(newDenyCommand())
	cmd.AddCommand(newCancelCommand())

	return cmd
}

// app assembles the store, executor, and runner from the global flags.
type app struct {
	runner  *engine.Runner
	store   *session.Store
	project string
}

func newApp() (*app, error) {
	project := flags.projectPath
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		project = cwd
	}

	sessionsDir := flags.sessionsDir
	if sessionsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		sessionsDir = filepath.Join(home, ".souschef", "sessions")
	}

	logger := log.New(log.FromEnv())
	store := session.NewStore(sessionsDir, session.WithLogger(logger))

	var spawner engine.Spawner
	if flags.spawnCmd != "" {
		spawner = newCommandSpawner(flags.spawnCmd)
	}

	executor := engine.New(store, spawner, project,
		engine.WithExecutorLogger(logger),
		engine.WithDisplay(newConsoleDisplay(os.Stderr, flags.quiet)),
		engine.WithCancellationSignal(newInterruptSignal()),
	)

	return &app{
		runner:  engine.NewRunner(executor, store, project),
		store:   store,
		project: project,
	}, nil
}
