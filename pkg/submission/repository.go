package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("submission not found")

	// ErrConcurrentModification means the optimistic state guard failed:
	// another orchestrator instance already moved the row. The caller is
	// expected to abandon its work, not to escalate.
	ErrConcurrentModification = errors.New("submission modified concurrently")

	ErrIllegalTransition = errors.New("illegal state transition")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Submission{})
}

// CreateIfAbsent inserts the submission unless a row with the same dedup key
// already exists. It returns the stored row and whether this call created it.
// Concurrent calls for one dedup key yield exactly one created=true.
func (r *Repository) CreateIfAbsent(ctx context.Context, sub *Submission) (*Submission, bool, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.State = StateReceived
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(sub)
	if result.Error != nil {
		return nil, false, fmt.Errorf("inserting submission: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return sub, true, nil
	}

	existing, err := r.GetByDedupKey(ctx, sub.DedupKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateState applies the transition only when the stored state still equals
// from. extra carries columns written atomically with the transition
// (result, error detail, attempt counter).
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, from, to State, extra map[string]interface{}) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	fields := map[string]interface{}{
		"state":      to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	result := r.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ? AND state = ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating submission state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&Submission{}).
			Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (r *Repository) ListByState(ctx context.Context, states ...State) ([]Submission, error) {
	var subs []Submission
	err := r.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("received_at").
		Find(&subs).Error
	return subs, err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	var sub Submission
	result := r.db.WithContext(ctx).First(&sub, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &sub, nil
}

func (r *Repository) GetByDedupKey(ctx context.Context, key string) (*Submission, error) {
	var sub Submission
	result := r.db.WithContext(ctx).First(&sub, "dedup_key = ?", key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &sub, nil
}

// LatestGraded returns the received timestamp of the newest submission of the
// student for the lesson that made it to grading, or nil when none did.
func (r *Repository) LatestGraded(ctx context.Context, studentID, lessonName string) (*time.Time, error) {
	var sub Submission
	result := r.db.WithContext(ctx).
		Where("student_id = ? AND lesson_name = ? AND state IN ?",
			studentID, lessonName,
			[]State{StateGraded, StateFeedbackSent}).
		Order("received_at DESC").
		First(&sub)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	ts := sub.ReceivedAt
	return &ts, nil
}
