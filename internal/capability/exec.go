package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single capability invocation when the
// configuration does not set one.
const DefaultTimeout = 10 * time.Minute

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string, env []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string, env []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// ExecCapability invokes an external command for each step. The full
// invocation is written to a temp file whose path is passed via the
// FORGELINE_INVOCATION environment variable; instruction and context
// never travel through argv, so they are invisible to other users'
// process listings.
type ExecCapability struct {
	Command string
	Workdir string
	Timeout time.Duration
	Runner  CommandRunner
}

// NewExecCapability builds an ExecCapability with the real runner.
func NewExecCapability(command, workdir string, timeout time.Duration) *ExecCapability {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecCapability{Command: command, Workdir: workdir, Timeout: timeout, Runner: &ExecRunner{}}
}

// Invoke runs the command and parses its stdout as a StepResult. A
// command that does not speak the JSON protocol is interpreted
// generically: exit 0 is success, anything else is failure. A timeout is
// a failure result, not an engine error.
func (c *ExecCapability) Invoke(ctx context.Context, inv Invocation) (*StepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	env, cleanup, err := invocationEnv(inv)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	stdout, stderr, exitCode, err := c.Runner.Run(ctx, c.Workdir, c.Command, env)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &StepResult{
				Status:  StatusFailure,
				Message: fmt.Sprintf("capability timed out after %s", c.Timeout),
				Details: tail(stderr, 2000),
			}, nil
		}
		return nil, fmt.Errorf("invoke capability for step %q: %w", inv.StepID, err)
	}

	if res := parseResult(stdout); res != nil {
		return res, nil
	}
	return genericResult(stdout, stderr, exitCode), nil
}

// Plan runs the command as a recovery handler: same transport, but the
// stdout is parsed as a RecoveryPlan. The failed result rides along in
// the invocation artifacts so the handler can inspect it.
func (c *ExecCapability) Plan(ctx context.Context, inv Invocation, failed *StepResult) (*RecoveryPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return nil, fmt.Errorf("marshal failed result: %w", err)
	}
	if inv.Artifacts == nil {
		inv.Artifacts = make(map[string]string)
	}
	inv.Artifacts["failed_result"] = string(failedJSON)

	env, cleanup, err := invocationEnv(inv)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	stdout, stderr, exitCode, err := c.Runner.Run(ctx, c.Workdir, c.Command, env)
	if err != nil {
		return nil, fmt.Errorf("invoke recovery handler for step %q: %w", inv.StepID, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("recovery handler exited %d: %s", exitCode, tail(stderr, 500))
	}

	var plan RecoveryPlan
	dec := json.NewDecoder(strings.NewReader(stdout))
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("parse recovery plan: %w", err)
	}
	switch plan.Action {
	case RecoveryRetry, RecoveryGotoStep, RecoveryStop:
	default:
		return nil, fmt.Errorf("recovery plan has unknown action %q", plan.Action)
	}
	if plan.Action == RecoveryGotoStep && plan.TargetStep == "" {
		return nil, fmt.Errorf("recovery plan action goto_step requires target_step")
	}
	return &plan, nil
}

// invocationEnv writes the invocation to a temp file and returns the env
// var pointing at it plus a cleanup func.
func invocationEnv(inv Invocation) ([]string, func(), error) {
	data, err := json.MarshalIndent(&inv, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal invocation: %w", err)
	}
	f, err := os.CreateTemp("", "forgeline-inv-*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("create invocation file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return nil, nil, fmt.Errorf("write invocation file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return nil, nil, fmt.Errorf("close invocation file: %w", err)
	}
	env := []string{
		"FORGELINE_INVOCATION=" + name,
		"FORGELINE_RUN_ID=" + inv.RunID,
		"FORGELINE_STEP_ID=" + inv.StepID,
		"FORGELINE_PHASE=" + inv.Phase,
	}
	return env, func() { os.Remove(name) }, nil
}

// parseResult tries to read stdout as a JSON StepResult. Returns nil when
// stdout is not in the protocol.
func parseResult(stdout string) *StepResult {
	trimmed := strings.TrimSpace(stdout)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var res StepResult
	if err := json.Unmarshal([]byte(trimmed), &res); err != nil {
		return nil
	}
	switch res.Status {
	case StatusSuccess, StatusWarning, StatusFailure, StatusPendingInput:
		return &res
	}
	return nil
}

// genericResult interprets a non-protocol command by exit code.
func genericResult(stdout, stderr string, exitCode int) *StepResult {
	if exitCode == 0 {
		return &StepResult{
			Status:  StatusSuccess,
			Message: "command succeeded",
			Details: tail(stdout, 2000),
		}
	}
	msg := fmt.Sprintf("command exited %d", exitCode)
	return &StepResult{
		Status:  StatusFailure,
		Message: msg,
		Details: tail(stdout+stderr, 2000),
		Errors:  []string{msg},
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
