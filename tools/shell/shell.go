// Package shell provides the shell_cmd tool: direct command execution
// scoped to a trusted working directory. Commands run without a shell
// interpreter; inline-eval forms and shell control tokens are rejected
// before anything executes.
package shell

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentworld/agentworld"
)

// DefaultTimeoutMs bounds a command run when the caller sets no timeout.
const DefaultTimeoutMs = 600000 // 10 min

// Tool implements agentworld.Tool for shell_cmd.
type Tool struct{}

// New creates the shell_cmd tool. The trusted working directory comes
// from the ToolContext at execution time, not from construction.
func New() *Tool { return &Tool{} }

var _ agentworld.Tool = (*Tool)(nil)

type params struct {
	Command       string   `json:"command"`
	Parameters    []string `json:"parameters,omitempty"`
	Directory     string   `json:"directory,omitempty"`
	Timeout       int      `json:"timeout,omitempty"` // milliseconds
	OutputFormat  string   `json:"output_format,omitempty"`
	OutputDetail  string   `json:"output_detail,omitempty"`
	ArtifactPaths []string `json:"artifact_paths,omitempty"`
}

type artifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

type runResult struct {
	ExitCode   int        `json:"exit_code"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	TimedOut   bool       `json:"timed_out"`
	DurationMs int64      `json:"duration_ms"`
	Artifacts  []artifact `json:"artifacts,omitempty"`
}

func (t *Tool) Definition() agentworld.ToolDefinition {
	return agentworld.ToolDefinition{
		Name:        "shell_cmd",
		Description: "Execute a command in the trusted working directory. The command runs directly (no shell); pass arguments via parameters. Shell operators and inline-eval flags are rejected.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Executable to run"},
				"parameters": {"type": "array", "items": {"type": "string"}, "description": "Arguments passed to the command"},
				"directory": {"type": "string", "description": "Working directory, must be inside the trusted directory"},
				"timeout": {"type": "integer", "description": "Timeout in milliseconds (default 600000)"},
				"output_format": {"type": "string", "enum": ["markdown", "json"]},
				"output_detail": {"type": "string", "enum": ["minimal", "full"]},
				"artifact_paths": {"type": "array", "items": {"type": "string"}, "description": "Files to hash after the run"}
			},
			"required": ["command"]
		}`),
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage, tc agentworld.ToolContext) (agentworld.ToolOutcome, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return agentworld.ToolOutcome{}, &agentworld.ToolError{Kind: agentworld.ToolArgsInvalid, Name: "shell_cmd", Err: err}
	}
	if strings.TrimSpace(p.Command) == "" {
		return agentworld.ToolOutcome{}, &agentworld.ToolError{Kind: agentworld.ToolArgsInvalid, Name: "shell_cmd", Err: fmt.Errorf("command is required")}
	}

	trusted := tc.WorkingDirectory
	if trusted == "" {
		return agentworld.ToolOutcome{}, &agentworld.ToolError{Kind: agentworld.ToolScopeViolation, Name: "shell_cmd", Err: fmt.Errorf("no trusted working directory configured")}
	}
	dir, err := resolveDirectory(trusted, p.Directory)
	if err != nil {
		return agentworld.ToolOutcome{}, err
	}
	if err := validateCommand(p.Command, p.Parameters, trusted); err != nil {
		return agentworld.ToolOutcome{}, err
	}

	timeout := DefaultTimeoutMs
	if p.Timeout > 0 {
		timeout = p.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := t.run(runCtx, dir, p, tc.Progress)
	res.DurationMs = time.Since(start).Milliseconds()
	res.TimedOut = runCtx.Err() == context.DeadlineExceeded

	for _, path := range p.ArtifactPaths {
		a, err := hashArtifact(trusted, dir, path)
		if err != nil {
			continue // missing artifacts are not an execution failure
		}
		res.Artifacts = append(res.Artifacts, a)
	}

	if p.OutputFormat == "json" {
		out, err := json.Marshal(res)
		if err != nil {
			return agentworld.ToolOutcome{}, &agentworld.ToolError{Kind: agentworld.ToolExecFailed, Name: "shell_cmd", Err: err}
		}
		return agentworld.ToolOutcome{Content: string(out)}, nil
	}
	return agentworld.ToolOutcome{Content: renderMarkdown(p, res, start)}, nil
}

// run executes the command, streaming stdout/stderr chunks through
// progress as they arrive.
func (t *Tool) run(ctx context.Context, dir string, p params, progress func(string)) runResult {
	cmd := exec.CommandContext(ctx, p.Command, p.Parameters...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{ExitCode: -1, Stderr: err.Error()}
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return runResult{ExitCode: -1, Stderr: err.Error()}
	}
	if err := cmd.Start(); err != nil {
		return runResult{ExitCode: -1, Stderr: err.Error()}
	}

	done := make(chan struct{}, 2)
	stream := func(r io.Reader, sink *strings.Builder) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				sink.WriteString(chunk)
				if progress != nil {
					progress(chunk)
				}
			}
			if err != nil {
				return
			}
		}
	}
	go stream(outPipe, &stdout)
	go stream(errPipe, &stderr)
	<-done
	<-done

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderr.Len() == 0 {
				stderr.WriteString(err.Error())
			}
		}
	}
	return runResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
}

func renderMarkdown(p params, res runResult, start time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## command\n`%s`\n\n", strings.Join(append([]string{p.Command}, p.Parameters...), " "))
	fmt.Fprintf(&b, "## executed_at\n%s\n\n", start.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "## duration\n%dms\n\n", res.DurationMs)
	if res.TimedOut {
		fmt.Fprintf(&b, "## error\ncommand timed out after %dms\n\n", res.DurationMs)
	} else {
		fmt.Fprintf(&b, "## exit_code\n%d\n\n", res.ExitCode)
	}
	if p.OutputDetail != "minimal" || res.ExitCode != 0 {
		fmt.Fprintf(&b, "## stdout\n```\n%s\n```\n\n", strings.TrimRight(res.Stdout, "\n"))
		fmt.Fprintf(&b, "## stderr\n```\n%s\n```\n", strings.TrimRight(res.Stderr, "\n"))
	} else {
		fmt.Fprintf(&b, "## stdout\n```\n%s\n```\n", strings.TrimRight(res.Stdout, "\n"))
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(&b, "\n- artifact: %s sha256=%s bytes=%d", a.Path, a.SHA256, a.Bytes)
	}
	return b.String()
}

func hashArtifact(trusted, dir, path string) (artifact, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}
	resolved = filepath.Clean(resolved)
	if !withinDirectory(trusted, resolved) {
		return artifact{}, fmt.Errorf("artifact %s outside trusted directory", path)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return artifact{}, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return artifact{}, err
	}
	return artifact{Path: path, SHA256: hex.EncodeToString(h.Sum(nil)), Bytes: n}, nil
}
