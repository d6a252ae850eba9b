package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type State string

const (
	StateReceived       State = "received"
	StateResolved       State = "resolved"
	StateGrading        State = "grading"
	StateGraded         State = "graded"
	StateRejected       State = "rejected"
	StateFailed         State = "failed"
	StateSkipped        State = "skipped"
	StateFeedbackSent   State = "feedback_sent"
	StateRetryExhausted State = "failed_retry_exhausted"
)

// transitions is the closed set of legal state changes. The only backward
// edge is grading -> resolved, which re-queues a failed invocation attempt.
var transitions = map[State][]State{
	StateReceived: {StateResolved, StateRejected},
	StateResolved: {StateGrading, StateSkipped},
	StateGrading:  {StateGraded, StateResolved, StateFailed},
	StateGraded:   {StateFeedbackSent},
	StateRejected: {StateFeedbackSent},
	StateFailed:   {StateRetryExhausted},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition happens.
func IsTerminal(s State) bool {
	switch s {
	case StateFeedbackSent, StateRetryExhausted, StateSkipped:
		return true
	}
	return false
}

// PreDispatch reports whether the state awaits a feedback message.
func PreDispatch(s State) bool {
	switch s {
	case StateGraded, StateRejected, StateFailed:
		return true
	}
	return false
}

// Submission is the central mutable entity of the pipeline. One row exists
// per dedup key; rows are never deleted.
type Submission struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;column:id"`
	DedupKey       string         `json:"dedup_key" gorm:"column:dedup_key;uniqueIndex;not null"`
	SenderEmail    string         `json:"sender_email" gorm:"column:sender_email"`
	Subject        string         `json:"subject" gorm:"column:subject"`
	StudentID      string         `json:"student_id,omitempty" gorm:"column:student_id"`
	LessonName     string         `json:"lesson_name,omitempty" gorm:"column:lesson_name"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"column:received_at"`
	State          State          `json:"state" gorm:"column:state;index"`
	PayloadPath    string         `json:"payload_path" gorm:"column:payload_path"`
	Attempts       int            `json:"attempts" gorm:"column:attempts"`
	Result         datatypes.JSON `json:"result,omitempty" gorm:"column:result"`
	ErrorDetail    string         `json:"error_detail,omitempty" gorm:"column:error_detail"`
	RejectReason   string         `json:"reject_reason,omitempty" gorm:"column:reject_reason"`
	FeedbackSentAt *time.Time     `json:"feedback_sent_at,omitempty" gorm:"column:feedback_sent_at"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

// TaskScore is one line of a grading result breakdown.
type TaskScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
}

// GradingResult is immutable once attached to a submission.
type GradingResult struct {
	TaskScores []TaskScore `json:"task_scores"`
	Total      float64     `json:"total"`
	MaxTotal   float64     `json:"max_total"`
	Remarks    string      `json:"remarks,omitempty"`
}

func (s *Submission) GradingResult() (*GradingResult, error) {
	if len(s.Result) == 0 {
		return nil, nil
	}
	var result GradingResult
	if err := json.Unmarshal(s.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func MarshalResult(result *GradingResult) (datatypes.JSON, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
