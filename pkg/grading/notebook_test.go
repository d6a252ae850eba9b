package grading

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coursegrader/platform/pkg/roster"
)

const validNotebook = `{
  "cells": [
    {"cell_type": "markdown", "metadata": {}},
    {"cell_type": "code", "metadata": {"nbgrader": {"grade": false, "grade_id": "solution-1"}}},
    {"cell_type": "code", "metadata": {"nbgrader": {"grade": true, "grade_id": "task-1"}}},
    {"cell_type": "code", "metadata": {"nbgrader": {"grade": true, "grade_id": "task-2"}}}
  ]
}`

func testLesson(t *testing.T, taskNames ...string) *roster.Lesson {
	t.Helper()
	tasks := make([]roster.Task, 0, len(taskNames))
	for _, name := range taskNames {
		tasks = append(tasks, roster.Task{Name: name, MaxScore: 50})
	}
	raw, err := roster.MarshalTasks(tasks)
	if err != nil {
		t.Fatalf("MarshalTasks: %v", err)
	}
	return &roster.Lesson{Name: "Lesson3", MaxScore: 100, Tasks: raw}
}

func writeNotebook(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Lesson3.ipynb")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing notebook: %v", err)
	}
	return path
}

func TestValidateNotebookAccepts(t *testing.T) {
	path := writeNotebook(t, validNotebook)
	if err := ValidateNotebook(path, testLesson(t, "task-1", "task-2")); err != nil {
		t.Fatalf("expected valid notebook, got %v", err)
	}
}

func TestValidateNotebookRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		tasks   []string
	}{
		{
			name:    "not json",
			content: "this is not a notebook",
			tasks:   []string{"task-1", "task-2"},
		},
		{
			name:    "missing graded cell",
			content: validNotebook,
			tasks:   []string{"task-1", "task-2", "task-3"},
		},
		{
			name:    "extra graded cell",
			content: validNotebook,
			tasks:   []string{"task-1"},
		},
		{
			name:    "renamed graded cell",
			content: validNotebook,
			tasks:   []string{"task-1", "task-9"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeNotebook(t, tc.content)
			err := ValidateNotebook(path, testLesson(t, tc.tasks...))
			invErr, ok := AsInvocationError(err)
			if !ok {
				t.Fatalf("expected InvocationError, got %v", err)
			}
			if invErr.Kind != KindInvalidPayload {
				t.Fatalf("expected kind %s, got %s", KindInvalidPayload, invErr.Kind)
			}
		})
	}
}

func TestValidateNotebookMissingFile(t *testing.T) {
	err := ValidateNotebook(filepath.Join(t.TempDir(), "absent.ipynb"), testLesson(t, "task-1"))
	invErr, ok := AsInvocationError(err)
	if !ok || invErr.Kind != KindInvalidPayload {
		t.Fatalf("expected InvalidPayload, got %v", err)
	}
}
