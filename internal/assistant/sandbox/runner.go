package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

// maxOutputBytes caps captured interpreter output so a runaway print loop
// cannot blow up the model context.
const maxOutputBytes = 64 * 1024

// InterpreterRunner executes code snippets in a fresh interpreter subprocess.
// Each run starts a new process with a scrubbed environment and its own
// temporary working directory, so no state persists across calls and host
// credentials never reach the executed code.
type InterpreterRunner struct {
	interpreter string
	timeout     time.Duration
}

func NewInterpreterRunner(interpreter string, timeout time.Duration) *InterpreterRunner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InterpreterRunner{interpreter: interpreter, timeout: timeout}
}

func (r *InterpreterRunner) Run(ctx context.Context, code string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	workDir, err := os.MkdirTemp("", "code-runner-*")
	if err != nil {
		return "", fmt.Errorf("create sandbox dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(runCtx, r.interpreter, "-I", "-c", code)
	cmd.Dir = workDir
	// Minimal environment only; API keys and other host secrets stay out.
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"TMPDIR=" + filepath.Join(workDir, "tmp"),
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		logx.Warn().Dur("timeout", r.timeout).Msg("code execution timed out")
		return "", fmt.Errorf("execution timed out after %s", r.timeout)
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%s", truncate(detail, maxOutputBytes))
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return "No output captured. Use print() to emit results.", nil
	}
	return truncate(out, maxOutputBytes), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [output truncated]"
}

var _ model.CodeRunner = (*InterpreterRunner)(nil)
