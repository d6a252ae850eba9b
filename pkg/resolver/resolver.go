package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coursegrader/platform/pkg/mail"
	"github.com/coursegrader/platform/pkg/roster"
)

// Reason classifies why a message could not be resolved to a submission.
// Every reason is user-facing: the sender gets a rejection notice naming it.
type Reason string

const (
	ReasonUnknownSender     Reason = "unknown_sender"
	ReasonMalformedSubject  Reason = "malformed_subject"
	ReasonUnknownLesson     Reason = "unknown_lesson"
	ReasonMissingAttachment Reason = "missing_attachment"
)

// subjectPattern matches "<keyword> / <lesson name>".
var subjectPattern = regexp.MustCompile(`^\s*(.+?)\s*/\s*(.+?)\s*$`)

// Roster is the read-only lookup surface the resolver needs.
type Roster interface {
	StudentByEmail(ctx context.Context, email string) (*roster.Student, error)
	LessonByName(ctx context.Context, name string) (*roster.Lesson, error)
}

// Outcome is the tagged result of resolution: either both Student and Lesson
// are set, or Reason is.
type Outcome struct {
	Student *roster.Student
	Lesson  *roster.Lesson
	Reason  Reason
}

func (o Outcome) Resolved() bool {
	return o.Reason == ""
}

func rejected(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

type Resolver struct {
	roster          Roster
	keyword         string
	acceptedFormats map[string]struct{}
}

func New(r Roster, keyword string, acceptedFormats []string) *Resolver {
	formats := make(map[string]struct{})
	for _, f := range acceptedFormats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		formats[f] = struct{}{}
	}
	return &Resolver{roster: r, keyword: keyword, acceptedFormats: formats}
}

// Resolve maps a raw message to a (student, lesson) pair or a rejection. It
// has no side effects beyond read-only roster lookups.
func (r *Resolver) Resolve(ctx context.Context, msg mail.RawMessage) (Outcome, error) {
	sender := strings.TrimSpace(msg.Sender)
	if sender == "" {
		return rejected(ReasonUnknownSender), nil
	}
	student, err := r.roster.StudentByEmail(ctx, sender)
	if err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			return rejected(ReasonUnknownSender), nil
		}
		return Outcome{}, fmt.Errorf("looking up student %q: %w", sender, err)
	}

	lessonName, ok := r.parseSubject(msg.Subject)
	if !ok {
		return rejected(ReasonMalformedSubject), nil
	}

	lesson, err := r.roster.LessonByName(ctx, lessonName)
	if err != nil {
		if errors.Is(err, roster.ErrLessonNotFound) {
			return rejected(ReasonUnknownLesson), nil
		}
		return Outcome{}, fmt.Errorf("looking up lesson %q: %w", lessonName, err)
	}

	if !r.hasAcceptedAttachment(msg.Attachments) {
		return rejected(ReasonMissingAttachment), nil
	}

	return Outcome{Student: student, Lesson: lesson}, nil
}

func (r *Resolver) parseSubject(subject string) (string, bool) {
	match := subjectPattern.FindStringSubmatch(subject)
	if match == nil {
		return "", false
	}
	if !strings.EqualFold(match[1], r.keyword) {
		return "", false
	}
	return match[2], true
}

func (r *Resolver) hasAcceptedAttachment(attachments []mail.Attachment) bool {
	for _, att := range attachments {
		ext := strings.ToLower(filepath.Ext(att.Filename))
		if _, ok := r.acceptedFormats[ext]; ok {
			return true
		}
	}
	return false
}
