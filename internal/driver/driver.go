// Package driver implements the Agent Driver: spawns the external agent
// CLI as a subprocess, streams its line-delimited JSON event stream, and
// surfaces a WorkerResult describing the outcome.
package driver

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// StreamCallback is invoked once per parsed event on the agent's stdout.
type StreamCallback func(eventType string, event map[string]any)

// ProcessCallback is invoked once the subprocess has been started, with
// its OS pid, so observers can record it for kill/restart operations.
type ProcessCallback func(pid int)

// WorkerResult describes the outcome of one agent-subprocess invocation.
type WorkerResult struct {
	Success        bool
	Output         string
	Error          string
	ExecutionTime  time.Duration
	Conversation   []map[string]any
	RenderedPrompt string
	Metadata       map[string]any
}

// Options configures one Execute call.
type Options struct {
	Payload        map[string]any
	Timeout        time.Duration
	OnStreamEvent  StreamCallback
	OnProcessStart ProcessCallback
}

const DefaultTimeout = 10 * time.Minute

// Driver spawns the agent CLI. The zero value uses "claude" with no
// model/max-turns override; FileAware toggles the --add-dir variant.
type Driver struct {
	CLIPath   string // default "claude"
	Model     string
	MaxTurns  int
	FileAware bool

	// execCommand is overridable in tests so the driver never has to
	// spawn a real agent binary.
	execCommand func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// resolver is overridable in tests via MockPathResolver.
	resolver PathResolver
}

func New() *Driver {
	return &Driver{CLIPath: "claude", resolver: realPathResolver{}}
}

// SetExecCommandForTest overrides the subprocess-spawning function so
// tests in other packages can inject a fake agent process instead of
// spawning a real CLI binary.
func (d *Driver) SetExecCommandForTest(fn func(ctx context.Context, name string, arg ...string) *exec.Cmd) {
	d.execCommand = fn
}

// IsAvailable reports whether the configured CLI executable can be found
// on PATH.
func (d *Driver) IsAvailable() bool {
	resolver := d.resolver
	if resolver == nil {
		resolver = realPathResolver{}
	}
	_, err := resolver.LookPath(d.cliPath())
	return err == nil
}

func (d *Driver) command(ctx context.Context, name string, arg ...string) *exec.Cmd {
	if d.execCommand != nil {
		return d.execCommand(ctx, name, arg...)
	}
	return exec.CommandContext(ctx, name, arg...)
}

// Execute renders the prompt template against the payload, spawns the
// agent CLI, and streams its output until a terminal result event or
// timeout.
func (d *Driver) Execute(ctx context.Context, promptTemplate string, opts Options) WorkerResult {
	start := time.Now()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	renderedPrompt := RenderPrompt(promptTemplate, opts.Payload)
	cmd := d.buildCommand(renderedPrompt, opts.Payload)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := d.executeWithStreaming(runCtx, cmd, opts, timeout)
	result.ExecutionTime = time.Since(start)
	result.RenderedPrompt = renderedPrompt
	return result
}

func (d *Driver) cliPath() string {
	if d.CLIPath == "" {
		return "claude"
	}
	return d.CLIPath
}

func (d *Driver) buildCommand(renderedPrompt string, payload map[string]any) []string {
	cmd := []string{d.cliPath(), "--print", renderedPrompt, "--output-format", "stream-json", "--verbose"}
	if d.Model != "" {
		cmd = append(cmd, "--model", d.Model)
	}
	if d.MaxTurns > 0 {
		cmd = append(cmd, "--max-turns", fmt.Sprintf("%d", d.MaxTurns))
	}
	if d.FileAware {
		cmd = append(cmd, buildFileAwareFlags(payload)...)
	}
	return cmd
}

// buildFileAwareFlags derives --add-dir entries from payload fields
// file_path, file_paths, and output_directory, each existing parent
// directory contributed once, alongside a skip-permissions flag. When no
// directory is found it returns no flags at all.
func buildFileAwareFlags(payload map[string]any) []string {
	dirs := collectDirectories(payload)
	if len(dirs) == 0 {
		return nil
	}
	flags := []string{"--dangerously-skip-permissions"}
	for dir := range dirs {
		flags = append(flags, "--add-dir", dir)
	}
	return flags
}

func (d *Driver) executeWithStreaming(ctx context.Context, cmdArgs []string, opts Options, timeout time.Duration) WorkerResult {
	cmd := d.command(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Stdin = nil
	setProcessGroup(cmd)

	if wd, ok := opts.Payload["working_directory"].(string); ok && wd != "" {
		cmd.Dir = wd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return WorkerResult{Success: false, Error: fmt.Sprintf("create stdout pipe: %v", err)}
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return WorkerResult{Success: false, Error: fmt.Sprintf("start agent process: %v", err)}
	}
	if opts.OnProcessStart != nil {
		opts.OnProcessStart(cmd.Process.Pid)
	}

	var conversation []map[string]any
	var finalResult map[string]any
	var sessionID string
	var mu sync.Mutex

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // unparseable lines are dropped silently
		}

		eventType, _ := event["type"].(string)
		switch {
		case eventType == "system" && event["subtype"] == "init":
			if sid, ok := event["session_id"].(string); ok {
				sessionID = sid
			}
			if opts.OnStreamEvent != nil {
				opts.OnStreamEvent(eventType, event)
			}
		case eventType == "user" || eventType == "assistant" || eventType == "tool_use" || eventType == "tool_result":
			mu.Lock()
			conversation = append(conversation, event)
			mu.Unlock()
			if opts.OnStreamEvent != nil {
				opts.OnStreamEvent(eventType, event)
			}
		case eventType == "result":
			finalResult = event
			if opts.OnStreamEvent != nil {
				opts.OnStreamEvent(eventType, event)
			}
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return WorkerResult{
			Success:      false,
			Error:        fmt.Sprintf("timed out after %.0fs", timeout.Seconds()),
			Conversation: conversation,
		}
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if finalResult != nil {
		isError, _ := finalResult["is_error"].(bool)
		resultText, _ := finalResult["result"].(string)
		meta := map[string]any{
			"session_id":      sessionID,
			"num_turns":       finalResult["num_turns"],
			"total_cost_usd":  finalResult["total_cost_usd"],
			"duration_ms":     finalResult["duration_ms"],
			"duration_api_ms": finalResult["duration_api_ms"],
			"return_code":     exitCode,
		}
		res := WorkerResult{
			Success:      !isError,
			Conversation: conversation,
			Metadata:     meta,
		}
		if isError {
			res.Error = resultText
		} else {
			res.Output = resultText
		}
		return res
	}

	return WorkerResult{
		Success:      false,
		Error:        fmt.Sprintf("no result event received; exit code %d; stderr: %s; wait error: %v", exitCode, stderrBuf.String(), waitErr),
		Conversation: conversation,
		Metadata:     map[string]any{"session_id": sessionID, "return_code": exitCode},
	}
}

// RenderPrompt substitutes {key} placeholders against the union of the
// payload's top-level fields and a special entry "payload" mapping to the
// whole payload. A missing placeholder appends a visible sentinel error
// line rather than failing the unit.
func RenderPrompt(template string, payload map[string]any) string {
	context := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		context[k] = v
	}
	context["payload"] = payload

	rendered, missing := substitutePlaceholders(template, context)
	if missing != "" {
		return fmt.Sprintf("%s\n\n[ERROR: Missing template variable: %s]", rendered, missing)
	}
	return rendered
}

func substitutePlaceholders(template string, context map[string]any) (string, string) {
	var out strings.Builder
	i := 0
	for i < len(template) {
		if template[i] == '{' {
			end := strings.IndexByte(template[i:], '}')
			if end == -1 {
				out.WriteString(template[i:])
				break
			}
			key := template[i+1 : i+end]
			if val, ok := context[key]; ok {
				out.WriteString(stringify(val))
				i += end + 1
				continue
			}
			return template, key
		}
		out.WriteByte(template[i])
		i++
	}
	return out.String(), ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

func collectDirectories(payload map[string]any) map[string]struct{} {
	dirs := make(map[string]struct{})
	addParent := func(p string) {
		if p == "" {
			return
		}
		if dir, ok := existingParentDir(p); ok {
			dirs[dir] = struct{}{}
		}
	}
	if fp, ok := payload["file_path"].(string); ok {
		addParent(fp)
	}
	if fps, ok := payload["file_paths"].([]any); ok {
		for _, fp := range fps {
			if s, ok := fp.(string); ok {
				addParent(s)
			}
		}
	}
	if od, ok := payload["output_directory"].(string); ok && od != "" {
		if dirExists(od) {
			dirs[od] = struct{}{}
		} else if dir, ok := existingParentDir(od); ok {
			dirs[dir] = struct{}{}
		}
	}
	return dirs
}
