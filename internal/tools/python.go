package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/easel/internal/canvas"
)

// pythonPrelude is the fixed helper surface available to generate_svg
// code. Helpers append path dicts to `paths`; the epilogue prints the
// collected list as JSON on stdout.
const pythonPrelude = `
import json, math, random, sys

paths = []

def _pts(seq):
    return [{"x": float(x), "y": float(y)} for x, y in seq]

def line(x1, y1, x2, y2, **style):
    paths.append({"kind": "line", "points": _pts([(x1, y1), (x2, y2)]), **style})

def polyline(points, **style):
    paths.append({"kind": "polyline", "points": _pts(points), **style})

def quad(p0, p1, p2, **style):
    paths.append({"kind": "quadratic", "points": _pts([p0, p1, p2]), **style})

def cubic(p0, p1, p2, p3, **style):
    paths.append({"kind": "cubic", "points": _pts([p0, p1, p2, p3]), **style})

def svg_path(d, **style):
    paths.append({"kind": "svg", "svg": d, **style})
`

const pythonEpilogue = `
print(json.dumps({"paths": paths}))
`

// maxPythonOutput bounds captured stdout and stderr.
const maxPythonOutput = 4 << 20

// PythonResult carries a sub-interpreter run's outcome.
type PythonResult struct {
	Paths  []canvas.Path
	Stdout string
	Stderr string
}

// PythonRunner executes generate_svg code in a subprocess with a bounded
// wall-clock timeout.
type PythonRunner struct {
	bin     string
	timeout time.Duration
}

// NewPythonRunner builds a runner for the given interpreter binary.
func NewPythonRunner(bin string, timeout time.Duration) *PythonRunner {
	if bin == "" {
		bin = "python3"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PythonRunner{bin: bin, timeout: timeout}
}

// Run executes code between the helper prelude and the JSON epilogue. On
// timeout the process is killed and an error returned; partial output is
// discarded.
func (r *PythonRunner) Run(ctx context.Context, code string) (*PythonResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.bin, "-")
	cmd.Stdin = strings.NewReader(pythonPrelude + "\n" + code + "\n" + pythonEpilogue)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxPythonOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxPythonOutput}

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("code execution timed out after %s", r.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("code execution failed: %v; stderr: %s", err, truncate(stderr.String(), 2000))
	}

	result := &PythonResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	// The JSON document is the last line of stdout; anything before it is
	// the code's own prints.
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) == 0 {
		return result, nil
	}
	var payload struct {
		Paths []canvas.Path `json:"paths"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		return nil, fmt.Errorf("code output is not valid path JSON: %v", err)
	}
	result.Paths = payload.Paths
	return result, nil
}

// limitedWriter drops bytes past n instead of failing the process.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if remain := l.n - l.w.Len(); remain > 0 {
		if len(p) > remain {
			l.w.Write(p[:remain])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
