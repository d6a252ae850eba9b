package orchestrator

import (
	"context"
	"time"

	"github.com/coursegrader/platform/pkg/roster"
	"github.com/coursegrader/platform/pkg/submission"
	"github.com/google/uuid"
)

// Store is the transactional record store the orchestrator checkpoints
// against. The concrete implementation is submission.Repository.
type Store interface {
	CreateIfAbsent(ctx context.Context, sub *submission.Submission) (*submission.Submission, bool, error)
	UpdateState(ctx context.Context, id uuid.UUID, from, to submission.State, extra map[string]interface{}) error
	ListByState(ctx context.Context, states ...submission.State) ([]submission.Submission, error)
	LatestGraded(ctx context.Context, studentID, lessonName string) (*time.Time, error)
}

// Roster is the read-only administrative lookup surface.
type Roster interface {
	StudentByID(ctx context.Context, id string) (*roster.Student, error)
	LessonByName(ctx context.Context, name string) (*roster.Lesson, error)
}

// Invoker wraps the autograder capability. Implementations must enforce
// their own timeout and never retry.
type Invoker interface {
	Invoke(ctx context.Context, lesson *roster.Lesson, payloadPath string) (*submission.GradingResult, error)
}

// Publisher emits audit events. A nil Publisher disables auditing.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Cache is the optional fast-path dedup check in front of the store.
type Cache interface {
	Seen(ctx context.Context, dedupKey string) bool
	MarkSeen(ctx context.Context, dedupKey string)
}
