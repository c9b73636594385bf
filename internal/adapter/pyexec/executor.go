// Package pyexec runs generated plotting code in a separate Python process.
//
// Generated code runs with the privileges of the service user and is not
// validated. Callers gate it behind the execution policy.
package pyexec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/render"
	"github.com/xiaot623/dataquery/internal/table"
)

const (
	dataFile   = "data.csv"
	scriptFile = "run.py"
	chartFile  = "chart.png"
)

// wrapper loads the table as df, runs the generated code and saves the
// current figure. Arguments: data file, base64-encoded code, chart file.
const wrapper = `import base64
import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt
import pandas as pd

df = pd.read_csv(%q)
code = base64.b64decode(%q).decode("utf-8")
exec(compile(code, "<generated>", "exec"), {"df": df, "plt": plt, "pd": pd})
plt.gcf().savefig(%q, format="png")
plt.close("all")
`

// Executor runs code with a Python interpreter.
type Executor struct {
	pythonPath string
	timeout    time.Duration
}

// New creates an Executor. A zero timeout means no limit beyond ctx.
func New(pythonPath string, timeout time.Duration) *Executor {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &Executor{pythonPath: pythonPath, timeout: timeout}
}

// Result is the outcome of one run. It owns its scratch directory until closed.
type Result struct {
	Output string
	image  *render.Image
}

// Plot returns the captured figure.
func (r *Result) Plot() render.Renderable {
	if r.image == nil {
		return nil
	}
	return r.image
}

// Close releases the scratch directory.
func (r *Result) Close() error {
	if r.image == nil {
		return nil
	}
	return r.image.Close()
}

// Run executes code against df in a fresh working directory and returns the
// figure it left behind.
func (e *Executor) Run(ctx context.Context, code string, df *table.Table) (*Result, error) {
	workDir, err := os.MkdirTemp("", "dataquery-exec-")
	if err != nil {
		return nil, domain.Wrap(domain.ErrExecution, fmt.Errorf("failed to create work dir: %w", err))
	}
	keep := false
	defer func() {
		if !keep {
			if err := os.RemoveAll(workDir); err != nil {
				log.Warn().Str("dir", workDir).Err(err).Msg("failed to remove work dir")
			}
		}
	}()

	if err := writeData(filepath.Join(workDir, dataFile), df); err != nil {
		return nil, domain.Wrap(domain.ErrExecution, err)
	}
	script := fmt.Sprintf(wrapper, dataFile, base64.StdEncoding.EncodeToString([]byte(code)), chartFile)
	if err := os.WriteFile(filepath.Join(workDir, scriptFile), []byte(script), 0o600); err != nil {
		return nil, domain.Wrap(domain.ErrExecution, fmt.Errorf("failed to write script: %w", err))
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.pythonPath, scriptFile)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "MPLBACKEND=Agg")
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	log.Debug().Dur("elapsed", time.Since(start)).Int("code_bytes", len(code)).Msg("python run finished")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Wrap(domain.ErrExecution, fmt.Errorf("timed out after %s", e.timeout))
		}
		if output != "" {
			return nil, domain.Wrap(domain.ErrExecution, fmt.Errorf("%w: %s", err, output))
		}
		return nil, domain.Wrap(domain.ErrExecution, err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, chartFile))
	if err != nil {
		return nil, domain.Wrap(domain.ErrExecution, fmt.Errorf("no figure was produced: %w", err))
	}
	img, err := render.NewImage(data, workDir)
	if err != nil {
		return nil, domain.Wrap(domain.ErrExecution, err)
	}
	keep = true
	return &Result{Output: output, image: img}, nil
}

func writeData(path string, df *table.Table) error {
	var buf bytes.Buffer
	if err := df.WriteCSV(&buf); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}
