// Package command runs degradation, restoration, and scoring capabilities as
// external programs.
//
// A capability is an argv template whose {placeholder} tokens are substituted
// per item. Each call gets its own timeout; a call that exceeds it, exits
// non-zero, or leaves no output file is reported as an error so the stage
// records the item as failed.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"restorebench/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps an external program implementing one capability.
type Client struct {
	argv    []string
	timeout time.Duration
	exec    Executor
}

// New constructs a client from an argv template.
func New(argv []string, timeoutSeconds int, opts ...Option) (*Client, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("capability command required")
	}
	client := &Client{
		argv:    append([]string(nil), argv...),
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the program name.
func (c *Client) Binary() string { return c.argv[0] }

// Describe implements services.Capability.
func (c *Client) Describe() string { return "command:" + c.argv[0] }

// Degrade implements services.Degrader.
func (c *Client) Degrade(ctx context.Context, req services.DegradeRequest) error {
	values := map[string]string{
		"input":  req.Input,
		"output": req.Output,
		"seed":   strconv.FormatUint(req.Seed, 10),
		"preset": req.Preset,
		"kind":   req.Kind,
		"params": encodeParams(req.Params),
		"id":     req.SampleID,
	}
	if err := c.run(ctx, values, nil); err != nil {
		return err
	}
	return requireOutput(req.Output)
}

// Restore implements services.Restorer.
func (c *Client) Restore(ctx context.Context, req services.RestoreRequest) error {
	tuning := ""
	if req.Tuning != nil {
		tuning = strconv.FormatFloat(*req.Tuning, 'f', -1, 64)
	}
	values := map[string]string{
		"input":  req.Input,
		"output": req.Output,
		"seed":   strconv.FormatUint(req.Seed, 10),
		"preset": req.Preset,
		"method": req.Method,
		"tuning": tuning,
		"id":     req.SampleID,
	}
	if err := c.run(ctx, values, nil); err != nil {
		return err
	}
	return requireOutput(req.Output)
}

// Score implements services.Scorer. The program must print the metric value
// as the last non-empty stdout line.
func (c *Client) Score(ctx context.Context, req services.ScoreRequest) (float64, error) {
	values := map[string]string{
		"gt":       req.GroundTruth,
		"restored": req.Restored,
		"metric":   req.Metric,
		"id":       req.SampleID,
	}
	var (
		mu   sync.Mutex
		last string
	)
	if err := c.run(ctx, values, func(line string) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			mu.Lock()
			last = trimmed
			mu.Unlock()
		}
	}); err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s output %q: %w", c.argv[0], last, err)
	}
	return value, nil
}

func (c *Client) run(ctx context.Context, values map[string]string, onStdout func(string)) error {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := Expand(c.argv[1:], values)
	if onStdout == nil {
		onStdout = func(string) {}
	}
	err := c.exec.Run(runCtx, c.argv[0], args, onStdout)
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, "", c.argv[0], fmt.Sprintf("exceeded %s", c.timeout), err)
	}
	return services.Wrap(services.ErrExternalTool, "", c.argv[0], "command failed", err)
}

// Expand substitutes {name} placeholders in every argument.
func Expand(args []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", values[key])
	}
	replacer := strings.NewReplacer(pairs...)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

func encodeParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key + "=" + strconv.FormatFloat(params[key], 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func requireOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "", "output", "capability produced no output file", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, "", "output", "capability produced an empty output file", nil)
	}
	return nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		scanErr  error
		tailMu   sync.Mutex
		errTail  []string
		maxLines = 5
	)
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}
	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, func(line string) {
		tailMu.Lock()
		defer tailMu.Unlock()
		errTail = append(errTail, line)
		if len(errTail) > maxLines {
			errTail = errTail[1:]
		}
	})
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		if tail := strings.TrimSpace(strings.Join(errTail, "\n")); tail != "" {
			return fmt.Errorf("wait command: %w: %s", err, tail)
		}
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
