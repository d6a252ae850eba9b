package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/coursegrader/platform/pkg/roster"
	"github.com/coursegrader/platform/pkg/submission"
)

// Invoker shells out to the configured autograder command. The command is
// run inside a scratch directory that is removed on every exit path; a call
// that exceeds the timeout is killed and reported as KindTimeout.
type Invoker struct {
	command string
	args    []string
	timeout time.Duration
}

func NewInvoker(command string, args []string, timeout time.Duration) *Invoker {
	return &Invoker{command: command, args: args, timeout: timeout}
}

// commandResult is the JSON contract the autograder prints to stdout.
type commandResult struct {
	Tasks []struct {
		Name     string  `json:"name"`
		Score    float64 `json:"score"`
		MaxScore float64 `json:"max_score"`
	} `json:"tasks"`
	Remarks string `json:"remarks"`
}

// Invoke grades the notebook for the lesson found under payloadPath. It
// returns either a result or an *InvocationError; it never retries.
func (inv *Invoker) Invoke(ctx context.Context, lesson *roster.Lesson, payloadPath string) (*submission.GradingResult, error) {
	notebookPath := filepath.Join(payloadPath, lesson.Name+".ipynb")
	if _, err := os.Stat(notebookPath); err != nil {
		return nil, &InvocationError{
			Kind:   KindInvalidPayload,
			Detail: fmt.Sprintf("notebook %q not found among submitted files", lesson.Name+".ipynb"),
		}
	}
	if err := ValidateNotebook(notebookPath, lesson); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "grading-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	args := append(append([]string(nil), inv.args...), notebookPath, lesson.Name)
	cmd := exec.CommandContext(runCtx, inv.command, args...)
	cmd.Dir = scratch

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	logger.Log.WithFields(map[string]interface{}{
		"lesson":     lesson.Name,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Debug("autograder finished")

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &InvocationError{
				Kind:   KindTimeout,
				Detail: fmt.Sprintf("autograder exceeded %s", inv.timeout),
			}
		}
		return nil, &InvocationError{
			Kind:   KindCrashed,
			Detail: fmt.Sprintf("autograder failed: %v: %s", runErr, truncate(stderr.String(), 2048)),
		}
	}

	var parsed commandResult
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, &InvocationError{
			Kind:   KindCrashed,
			Detail: fmt.Sprintf("autograder produced unparseable output: %v: %s", err, truncate(stdout.String(), 512)),
		}
	}

	result := &submission.GradingResult{Remarks: parsed.Remarks}
	for _, task := range parsed.Tasks {
		result.TaskScores = append(result.TaskScores, submission.TaskScore{
			Name:     task.Name,
			Score:    task.Score,
			MaxScore: task.MaxScore,
		})
		result.Total += task.Score
		result.MaxTotal += task.MaxScore
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
