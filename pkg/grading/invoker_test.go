package grading

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coursegrader/platform/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func payloadDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Lesson3.ipynb")
	if err := os.WriteFile(path, []byte(validNotebook), 0o644); err != nil {
		t.Fatalf("writing notebook: %v", err)
	}
	return dir
}

func TestInvokeParsesGraderOutput(t *testing.T) {
	output := `{"tasks":[{"name":"task-1","score":40,"max_score":50},{"name":"task-2","score":47,"max_score":50}],"remarks":"good work"}`
	inv := NewInvoker("sh", []string{"-c", "echo '" + output + "' #"}, 30*time.Second)

	result, err := inv.Invoke(context.Background(), testLesson(t, "task-1", "task-2"), payloadDir(t))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Total != 87 || result.MaxTotal != 100 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if len(result.TaskScores) != 2 || result.Remarks != "good work" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInvokeReportsCrash(t *testing.T) {
	inv := NewInvoker("sh", []string{"-c", "echo boom >&2; exit 3 #"}, 30*time.Second)

	_, err := inv.Invoke(context.Background(), testLesson(t, "task-1", "task-2"), payloadDir(t))
	invErr, ok := AsInvocationError(err)
	if !ok {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Kind != KindCrashed {
		t.Fatalf("expected kind %s, got %s", KindCrashed, invErr.Kind)
	}
}

func TestInvokeReportsUnparseableOutput(t *testing.T) {
	inv := NewInvoker("sh", []string{"-c", "echo not-json #"}, 30*time.Second)

	_, err := inv.Invoke(context.Background(), testLesson(t, "task-1", "task-2"), payloadDir(t))
	invErr, ok := AsInvocationError(err)
	if !ok || invErr.Kind != KindCrashed {
		t.Fatalf("expected Crashed, got %v", err)
	}
}

func TestInvokeEnforcesTimeout(t *testing.T) {
	inv := NewInvoker("sh", []string{"-c", "sleep 30 #"}, 100*time.Millisecond)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), testLesson(t, "task-1", "task-2"), payloadDir(t))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("invocation not cancelled, took %s", elapsed)
	}
	invErr, ok := AsInvocationError(err)
	if !ok {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Kind != KindTimeout {
		t.Fatalf("expected kind %s, got %s", KindTimeout, invErr.Kind)
	}
}

func TestInvokeRejectsMissingNotebook(t *testing.T) {
	inv := NewInvoker("sh", []string{"-c", "echo '{}' #"}, 30*time.Second)

	_, err := inv.Invoke(context.Background(), testLesson(t, "task-1"), t.TempDir())
	invErr, ok := AsInvocationError(err)
	if !ok || invErr.Kind != KindInvalidPayload {
		t.Fatalf("expected InvalidPayload, got %v", err)
	}
}
