package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coursegrader/platform/pkg/mail"
	"github.com/coursegrader/platform/pkg/roster"
)

type fakeRoster struct {
	students map[string]*roster.Student
	lessons  map[string]*roster.Lesson
}

func (f *fakeRoster) StudentByEmail(_ context.Context, email string) (*roster.Student, error) {
	if s, ok := f.students[strings.ToLower(email)]; ok {
		return s, nil
	}
	return nil, roster.ErrStudentNotFound
}

func (f *fakeRoster) LessonByName(_ context.Context, name string) (*roster.Lesson, error) {
	if l, ok := f.lessons[strings.ToLower(name)]; ok {
		return l, nil
	}
	return nil, roster.ErrLessonNotFound
}

func newTestResolver() *Resolver {
	ros := &fakeRoster{
		students: map[string]*roster.Student{
			"alice@example.com": {ID: "alice", Email: "alice@example.com", FirstName: "Alice"},
		},
		lessons: map[string]*roster.Lesson{
			"lesson3": {Name: "Lesson3", MaxScore: 100},
		},
	}
	return New(ros, "PY101", []string{".ipynb", ".zip"})
}

func msg(sender, subject string, filenames ...string) mail.RawMessage {
	m := mail.RawMessage{
		ID:         "msg-1",
		Sender:     sender,
		Subject:    subject,
		ReceivedAt: time.Now().UTC(),
	}
	for _, name := range filenames {
		m.Attachments = append(m.Attachments, mail.Attachment{Filename: name})
	}
	return m
}

func TestResolve(t *testing.T) {
	res := newTestResolver()

	tests := []struct {
		name   string
		msg    mail.RawMessage
		reason Reason
	}{
		{
			name: "well-formed submission resolves",
			msg:  msg("alice@example.com", "PY101 / Lesson3", "Lesson3.ipynb"),
		},
		{
			name: "sender email is matched case-insensitively",
			msg:  msg("Alice@Example.COM", "PY101 / Lesson3", "Lesson3.ipynb"),
		},
		{
			name:   "unknown sender",
			msg:    msg("unknown@x.com", "PY101 / Lesson3", "Lesson3.ipynb"),
			reason: ReasonUnknownSender,
		},
		{
			name:   "empty sender",
			msg:    msg("", "PY101 / Lesson3", "Lesson3.ipynb"),
			reason: ReasonUnknownSender,
		},
		{
			name:   "subject without separator",
			msg:    msg("alice@example.com", "my homework", "Lesson3.ipynb"),
			reason: ReasonMalformedSubject,
		},
		{
			name:   "subject with wrong keyword",
			msg:    msg("alice@example.com", "CS999 / Lesson3", "Lesson3.ipynb"),
			reason: ReasonMalformedSubject,
		},
		{
			name:   "unknown lesson",
			msg:    msg("alice@example.com", "PY101 / NoSuchLesson", "Lesson3.ipynb"),
			reason: ReasonUnknownLesson,
		},
		{
			name:   "no attachments",
			msg:    msg("alice@example.com", "PY101 / Lesson3"),
			reason: ReasonMissingAttachment,
		},
		{
			name:   "only unaccepted attachment formats",
			msg:    msg("alice@example.com", "PY101 / Lesson3", "notes.pdf", "photo.jpg"),
			reason: ReasonMissingAttachment,
		},
		{
			name: "accepted archive format",
			msg:  msg("alice@example.com", "PY101 / Lesson3", "Lesson3.zip"),
		},
		{
			name: "subject whitespace is tolerated",
			msg:  msg("alice@example.com", "  py101   /   Lesson3  ", "Lesson3.ipynb"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := res.Resolve(context.Background(), tc.msg)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if tc.reason == "" {
				if !outcome.Resolved() {
					t.Fatalf("expected resolution, got rejection %q", outcome.Reason)
				}
				if outcome.Student.ID != "alice" || outcome.Lesson.Name != "Lesson3" {
					t.Fatalf("resolved to wrong pair: %+v", outcome)
				}
				return
			}
			if outcome.Resolved() {
				t.Fatalf("expected rejection %q, got resolution", tc.reason)
			}
			if outcome.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, outcome.Reason)
			}
		})
	}
}
