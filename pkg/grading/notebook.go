package grading

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/coursegrader/platform/pkg/roster"
)

// notebook is the minimal slice of the .ipynb format the validator needs.
type notebook struct {
	Cells []struct {
		CellType string `json:"cell_type"`
		Metadata struct {
			Grader *struct {
				Grade   bool   `json:"grade"`
				GradeID string `json:"grade_id"`
			} `json:"nbgrader"`
		} `json:"metadata"`
	} `json:"cells"`
}

// ValidateNotebook checks that the submitted notebook parses and that its set
// of graded test cells matches the lesson's expected task set. A mismatch
// means the student altered or corrupted the assignment structure.
func ValidateNotebook(path string, lesson *roster.Lesson) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &InvocationError{Kind: KindInvalidPayload, Detail: fmt.Sprintf("reading notebook: %v", err)}
	}

	var nb notebook
	if err := json.Unmarshal(raw, &nb); err != nil {
		return &InvocationError{Kind: KindInvalidPayload, Detail: "notebook is not valid JSON"}
	}

	var gradeCells []string
	for _, cell := range nb.Cells {
		if cell.CellType == "code" && cell.Metadata.Grader != nil && cell.Metadata.Grader.Grade {
			gradeCells = append(gradeCells, cell.Metadata.Grader.GradeID)
		}
	}

	tasks, err := lesson.TaskList()
	if err != nil {
		return fmt.Errorf("reading lesson task set: %w", err)
	}
	expected := make([]string, 0, len(tasks))
	for _, task := range tasks {
		expected = append(expected, task.Name)
	}

	if !sameSet(gradeCells, expected) {
		return &InvocationError{
			Kind:   KindInvalidPayload,
			Detail: fmt.Sprintf("graded cells %v do not match expected tasks %v", gradeCells, expected),
		}
	}
	return nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
