package feedback

import (
	"strings"
	"testing"

	"github.com/coursegrader/platform/pkg/resolver"
	"github.com/coursegrader/platform/pkg/roster"
	"github.com/coursegrader/platform/pkg/submission"
)

func newTestComposer() *Composer {
	return NewComposer("PY101", "PY101", "operator@example.com", DefaultTemplates())
}

func TestComposeSuccess(t *testing.T) {
	c := newTestComposer()

	msg, err := c.Compose(Outcome{
		Kind:     KindSuccess,
		DedupKey: "msg-1",
		Student:  &roster.Student{ID: "alice", Email: "alice@example.com", FirstName: "Alice", LastName: "Liddell"},
		Lesson:   "Lesson3",
		Result: &submission.GradingResult{
			TaskScores: []submission.TaskScore{
				{Name: "task-1", Score: 40, MaxScore: 50},
				{Name: "task-2", Score: 47, MaxScore: 50},
			},
			Total:    87,
			MaxTotal: 100,
			Remarks:  "good work",
		},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	if msg.To != "alice@example.com" {
		t.Errorf("wrong recipient: %s", msg.To)
	}
	for _, want := range []string{"Alice Liddell", "Lesson3", "87.0", "100.0", "task-1", "task-2", "good work"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if !strings.Contains(msg.Subject, "Lesson3") {
		t.Errorf("subject missing lesson: %s", msg.Subject)
	}
}

func TestComposeRejectionPerReason(t *testing.T) {
	c := newTestComposer()

	reasons := []resolver.Reason{
		resolver.ReasonUnknownSender,
		resolver.ReasonMalformedSubject,
		resolver.ReasonUnknownLesson,
		resolver.ReasonMissingAttachment,
	}
	for _, reason := range reasons {
		msg, err := c.Compose(Outcome{
			Kind:     KindRejected,
			DedupKey: "msg-1",
			Sender:   "someone@example.com",
			Reason:   reason,
		})
		if err != nil {
			t.Fatalf("Compose(%s): %v", reason, err)
		}
		if msg.To != "someone@example.com" {
			t.Errorf("reason %s: wrong recipient %s", reason, msg.To)
		}
		if msg.Body == "" {
			t.Errorf("reason %s: empty body", reason)
		}
	}
}

func TestComposeRejectionWithoutSenderEscalates(t *testing.T) {
	c := newTestComposer()

	msg, err := c.Compose(Outcome{
		Kind:     KindRejected,
		DedupKey: "msg-1",
		Reason:   resolver.ReasonMalformedSubject,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if msg.To != "operator@example.com" {
		t.Fatalf("expected escalation to operator, got recipient %s", msg.To)
	}
	if !strings.Contains(msg.Body, "msg-1") {
		t.Errorf("alert body should reference the submission: %s", msg.Body)
	}
}

func TestComposeOperatorAlert(t *testing.T) {
	c := newTestComposer()

	msg, err := c.Compose(Outcome{
		Kind:        KindOperatorAlert,
		DedupKey:    "msg-9",
		ErrorDetail: "autograder exceeded 10m",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if msg.To != "operator@example.com" {
		t.Errorf("wrong recipient: %s", msg.To)
	}
	if !strings.Contains(msg.Body, "autograder exceeded 10m") {
		t.Errorf("body missing error detail: %s", msg.Body)
	}
}

func TestLoadTemplatesFallsBackToDefaults(t *testing.T) {
	tpl, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if tpl.SuccessBody == "" || len(tpl.RejectionBodies) != 4 {
		t.Fatalf("unexpected defaults: %+v", tpl)
	}
}
