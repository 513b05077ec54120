package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
)

// runBashStep executes a shell command with template substitution applied to
// the command, working directory, and environment values. Commands run under
// /bin/bash -c specifically; recipes rely on bash features like pipefail and
// brace expansion, so sh is not acceptable.
func (e *Executor) runBashStep(ctx context.Context, step *recipe.Step, stepContext map[string]any) (any, error) {
	command, err := recipe.Substitute(step.Command, stepContext)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving command for step %s", step.ID)
	}

	cwd := step.Cwd
	if cwd != "" {
		if cwd, err = recipe.Substitute(cwd, stepContext); err != nil {
			return nil, errors.Wrapf(err, "resolving cwd for step %s", step.ID)
		}
	}

	timeout := time.Duration(step.Timeout) * time.Second
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "/bin/bash", "-c", command)
	cmd.Dir = cwd

	// Inherit the process environment overlaid with the step's env map.
	env := os.Environ()
	for k, v := range step.Env {
		resolved, err := recipe.Substitute(v, stepContext)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving env %s for step %s", k, step.ID)
		}
		env = append(env, k+"="+resolved)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running command",
		log.String(log.StepIDKey, step.ID),
		log.String("command", command))

	runErr := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, &errors.TimeoutError{
			Operation: fmt.Sprintf("bash step %s", step.ID),
			Duration:  timeout,
		}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errors.Wrapf(runErr, "starting command for step %s", step.ID)
		}
	}

	if step.OutputExitCode != "" {
		stepContext[step.OutputExitCode] = strconv.Itoa(exitCode)
	}

	if exitCode != 0 {
		msg := fmt.Sprintf("command exited with code %d", exitCode)
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			msg += ": " + errText
		}
		return nil, errors.New(msg)
	}

	return stdout.String(), nil
}
