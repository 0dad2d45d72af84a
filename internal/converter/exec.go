package converter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okuzmin/vectorize-api/internal/storage"
)

// ExecToolConfig describes one external conversion binary. Args may contain
// the placeholders {input} and {output}, replaced with staged file paths at
// invocation time; accepted parameters are appended as --key=value flags.
type ExecToolConfig struct {
	Name          string
	Binary        string
	Args          []string
	OutputExt     string
	ContentType   string
	Timeout       time.Duration
	AllowedParams map[string]bool
	BaseTime      time.Duration
	TimePerMB     time.Duration
}

// ExecTool adapts an out-of-process binary to the Capability interface. The
// tool's stdout is scanned for lines of the form "PROGRESS <0-100>", the
// contract wrapped converter scripts follow.
type ExecTool struct {
	cfg    ExecToolConfig
	store  storage.Store
	logger *slog.Logger
}

// NewExecTool creates an adapter for one external binary.
func NewExecTool(cfg ExecToolConfig, store storage.Store, logger *slog.Logger) *ExecTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &ExecTool{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "exec_tool", "tool", cfg.Name),
	}
}

// Name returns the method name clients request.
func (t *ExecTool) Name() string { return t.cfg.Name }

// IsAvailable reports whether the binary resolves on PATH.
func (t *ExecTool) IsAvailable() bool {
	_, err := exec.LookPath(t.cfg.Binary)
	return err == nil
}

// Validate rejects parameters outside the tool's allow-list.
func (t *ExecTool) Validate(params map[string]string) []FieldError {
	var errs []FieldError
	for key := range params {
		if !t.cfg.AllowedParams[key] {
			errs = append(errs, FieldError{
				Field:   key,
				Message: fmt.Sprintf("parameter not supported by %s", t.cfg.Name),
			})
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// EstimateTime predicts duration linearly from input size.
func (t *ExecTool) EstimateTime(sizeBytes int64, params map[string]string) time.Duration {
	est := t.cfg.BaseTime + time.Duration(sizeBytes/(1<<20))*t.cfg.TimePerMB
	if est <= 0 {
		est = 5 * time.Second
	}
	return est
}

// Convert stages the input locally, runs the binary with a timeout, streams
// progress from stdout, and stores the produced file as a new result blob.
func (t *ExecTool) Convert(ctx context.Context, inputRef string, params map[string]string, onProgress ProgressFunc) (*Result, error) {
	started := time.Now()

	input, err := t.store.Fetch(ctx, inputRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch input: %w", err)
	}

	workDir, err := os.MkdirTemp("", "vectorize-"+t.cfg.Name+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inPath := filepath.Join(workDir, "input"+filepath.Ext(inputRef))
	outPath := filepath.Join(workDir, "output"+t.cfg.OutputExt)
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage input: %w", err)
	}

	if onProgress != nil {
		onProgress(5)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.cfg.Binary, t.buildArgs(inPath, outPath, params)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", t.cfg.Binary, err)
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if pct, ok := parseProgressLine(scanner.Text()); ok && onProgress != nil {
				onProgress(pct)
			}
		}
	}()

	err = cmd.Wait()
	<-scanDone
	if err != nil {
		// the context error is the more precise cause on timeout/cancel
		if ctxErr := runCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", t.cfg.Binary, ctxErr)
		}
		t.logger.Warn("tool exited with error",
			"error", err,
			"stderr", truncate(stderr.String(), 512))
		return nil, err
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("tool produced no output: %w", err)
	}

	resultRef := "results/" + uuid.NewString() + t.cfg.OutputExt
	if err := t.store.Save(ctx, resultRef, output, t.cfg.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	if onProgress != nil {
		onProgress(100)
	}

	return &Result{
		ResultRef: resultRef,
		Metrics: map[string]any{
			"tool":         t.cfg.Name,
			"duration_ms":  time.Since(started).Milliseconds(),
			"input_bytes":  len(input),
			"output_bytes": len(output),
		},
	}, nil
}

func (t *ExecTool) buildArgs(inPath, outPath string, params map[string]string) []string {
	args := make([]string, 0, len(t.cfg.Args)+len(params))
	for _, a := range t.cfg.Args {
		a = strings.ReplaceAll(a, "{input}", inPath)
		a = strings.ReplaceAll(a, "{output}", outPath)
		args = append(args, a)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+k+"="+params[k])
	}
	return args
}

// parseProgressLine extracts the percentage from a "PROGRESS <n>" line.
func parseProgressLine(line string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 || fields[0] != "PROGRESS" {
		return 0, false
	}
	pct, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
