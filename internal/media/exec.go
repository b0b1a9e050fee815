package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// run is the core subprocess execution helper.
func (e *FFmpegEngine) run(ctx context.Context, stage Stage, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()
	tool := filepath.Base(bin)

	cmd := exec.CommandContext(ctx, bin, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	e.cfg.Logger.Debug("executing media command",
		"stage", stage,
		"tool", tool,
		"args", args,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
		if ctx.Err() != nil {
			stderrBuf.WriteString(" (" + ctx.Err().Error() + ")")
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		e.cfg.Logger.Warn("media command failed",
			"stage", stage,
			"tool", tool,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		e.cfg.Logger.Debug("media command succeeded",
			"stage", stage,
			"tool", tool,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		Tool:       tool,
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// resolveBinary finds a usable binary: the configured one, or the first
// candidate present on PATH.
func resolveBinary(preferred string, candidates ...string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured binary %q not found", preferred)
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no binary found on PATH (tried %s)", strings.Join(candidates, ", "))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
