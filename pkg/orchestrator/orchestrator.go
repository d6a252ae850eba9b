package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coursegrader/platform/pkg/common/logger"
	"github.com/coursegrader/platform/pkg/feedback"
	"github.com/coursegrader/platform/pkg/grading"
	"github.com/coursegrader/platform/pkg/mail"
	"github.com/coursegrader/platform/pkg/resolver"
	"github.com/coursegrader/platform/pkg/submission"
	"github.com/sirupsen/logrus"
)

const eventSource = "grading-pipeline"

type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	GradeWorkers int

	// RequeueAfter is how long a submission may sit in the grading state
	// before it is considered orphaned by a crashed instance and re-queued.
	// Must exceed the invocation timeout.
	RequeueAfter time.Duration
}

// Orchestrator drives each inbound message through resolution, grading and
// feedback dispatch. It holds no authoritative state between cycles: every
// decision is re-derived from the store, so a crash mid-pipeline resumes
// from the last completed state transition on the next poll.
type Orchestrator struct {
	store     Store
	roster    Roster
	resolver  *resolver.Resolver
	invoker   Invoker
	composer  *feedback.Composer
	exchanger mail.Exchanger
	events    Publisher
	cache     Cache
	opts      Options
}

func New(store Store, ros Roster, res *resolver.Resolver, inv Invoker,
	comp *feedback.Composer, exchanger mail.Exchanger, events Publisher,
	cache Cache, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.GradeWorkers <= 0 {
		opts.GradeWorkers = 1
	}
	if opts.RequeueAfter <= 0 {
		opts.RequeueAfter = 30 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		roster:    ros,
		resolver:  res,
		invoker:   inv,
		composer:  comp,
		exchanger: exchanger,
		events:    events,
		cache:     cache,
		opts:      opts,
	}
}

// Run polls until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	logger.Log.WithField("interval", o.opts.PollInterval.String()).Info("Orchestrator started")

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := o.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("poll cycle failed")
		}
		select {
		case <-ctx.Done():
			logger.Log.Info("Orchestrator stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one full pass: ingest new messages, grade resolved submissions
// (including ones left over by a previous crash), dispatch pending feedback.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	if err := o.ingest(ctx); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	if err := o.grade(ctx); err != nil {
		return fmt.Errorf("grading: %w", err)
	}
	if err := o.dispatch(ctx); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (o *Orchestrator) ingest(ctx context.Context) error {
	messages, err := o.exchanger.FetchNew(ctx)
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	for _, msg := range messages {
		msg := msg
		o.guard(ctx, msg.ID, func() error {
			return o.ingestOne(ctx, msg)
		})
	}

	// Rows still in received were stranded by a crash between creation and
	// resolution; everything needed to resolve them is on the row itself.
	stranded, err := o.store.ListByState(ctx, submission.StateReceived)
	if err != nil {
		return fmt.Errorf("listing stranded submissions: %w", err)
	}
	for _, sub := range stranded {
		sub := sub
		o.guard(ctx, sub.DedupKey, func() error {
			return o.resolveSubmission(ctx, &sub, o.rawFromRow(sub))
		})
	}
	return nil
}

func (o *Orchestrator) ingestOne(ctx context.Context, msg mail.RawMessage) error {
	log := logger.WithFields(map[string]interface{}{
		"dedup_key": msg.ID,
		"sender":    msg.Sender,
	})

	if o.cache != nil && o.cache.Seen(ctx, msg.ID) {
		log.Debug("message already completed, skipping")
		return nil
	}

	payloadPath := ""
	if len(msg.Attachments) > 0 {
		payloadPath = filepath.Dir(msg.Attachments[0].Path)
	}

	sub, created, err := o.store.CreateIfAbsent(ctx, &submission.Submission{
		DedupKey:    msg.ID,
		SenderEmail: msg.Sender,
		Subject:     msg.Subject,
		ReceivedAt:  msg.ReceivedAt,
		PayloadPath: payloadPath,
	})
	if err != nil {
		return err
	}
	if !created {
		log.WithField("state", sub.State).Debug("duplicate delivery, submission exists")
		if submission.IsTerminal(sub.State) && o.cache != nil {
			o.cache.MarkSeen(ctx, msg.ID)
		}
		return nil
	}

	log.WithField("submission_id", sub.ID).Info("submission received")
	o.publish(ctx, "submission.received", sub)

	return o.resolveSubmission(ctx, sub, msg)
}

func (o *Orchestrator) resolveSubmission(ctx context.Context, sub *submission.Submission, msg mail.RawMessage) error {
	log := logger.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"dedup_key":     sub.DedupKey,
	})

	outcome, err := o.resolver.Resolve(ctx, msg)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", msg.ID, err)
	}

	if !outcome.Resolved() {
		err := o.store.UpdateState(ctx, sub.ID, submission.StateReceived, submission.StateRejected,
			map[string]interface{}{"reject_reason": string(outcome.Reason)})
		if err != nil {
			return o.swallowConcurrent(err, log)
		}
		log.WithField("reason", outcome.Reason).Info("submission rejected")
		o.publish(ctx, "submission.rejected", sub)
		return nil
	}

	err = o.store.UpdateState(ctx, sub.ID, submission.StateReceived, submission.StateResolved,
		map[string]interface{}{
			"student_id":  outcome.Student.ID,
			"lesson_name": outcome.Lesson.Name,
		})
	if err != nil {
		return o.swallowConcurrent(err, log)
	}
	log.WithFields(map[string]interface{}{
		"student": outcome.Student.ID,
		"lesson":  outcome.Lesson.Name,
	}).Info("submission resolved")
	o.publish(ctx, "submission.resolved", sub)
	return nil
}

// rawFromRow rebuilds the resolver input from a persisted submission so a
// stranded row can be resolved without refetching the message.
func (o *Orchestrator) rawFromRow(sub submission.Submission) mail.RawMessage {
	msg := mail.RawMessage{
		ID:         sub.DedupKey,
		Sender:     sub.SenderEmail,
		Subject:    sub.Subject,
		ReceivedAt: sub.ReceivedAt,
	}
	if sub.PayloadPath != "" {
		if entries, err := os.ReadDir(sub.PayloadPath); err == nil {
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				msg.Attachments = append(msg.Attachments, mail.Attachment{
					Filename: entry.Name(),
					Path:     filepath.Join(sub.PayloadPath, entry.Name()),
				})
			}
		}
	}
	return msg
}

func (o *Orchestrator) grade(ctx context.Context) error {
	// A row stuck in grading belongs to a crashed instance once it has been
	// there longer than any invocation could run; send it around again.
	stalled, err := o.store.ListByState(ctx, submission.StateGrading)
	if err != nil {
		return fmt.Errorf("listing in-flight submissions: %w", err)
	}
	for _, sub := range stalled {
		if time.Since(sub.UpdatedAt) < o.opts.RequeueAfter {
			continue
		}
		sub := sub
		o.guard(ctx, sub.DedupKey, func() error {
			log := logger.WithField("dedup_key", sub.DedupKey)
			err := o.store.UpdateState(ctx, sub.ID, submission.StateGrading, submission.StateResolved, nil)
			if err != nil {
				return o.swallowConcurrent(err, log)
			}
			log.Warn("orphaned grading submission re-queued")
			o.publish(ctx, "submission.requeued", &sub)
			return nil
		})
	}

	subs, err := o.store.ListByState(ctx, submission.StateResolved)
	if err != nil {
		return fmt.Errorf("listing resolved submissions: %w", err)
	}

	sem := make(chan struct{}, o.opts.GradeWorkers)
	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.guard(ctx, sub.DedupKey, func() error {
				return o.gradeOne(ctx, sub)
			})
		}()
	}
	wg.Wait()
	return nil
}

func (o *Orchestrator) gradeOne(ctx context.Context, sub submission.Submission) error {
	log := logger.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"dedup_key":     sub.DedupKey,
		"lesson":        sub.LessonName,
	})

	lesson, err := o.roster.LessonByName(ctx, sub.LessonName)
	if err != nil {
		return fmt.Errorf("loading lesson %q: %w", sub.LessonName, err)
	}

	// A newer submission of the same student for the same lesson may already
	// be graded; an older straggler is then skipped without feedback.
	latest, err := o.store.LatestGraded(ctx, sub.StudentID, sub.LessonName)
	if err != nil {
		return err
	}
	if latest != nil && !sub.ReceivedAt.After(*latest) {
		err := o.store.UpdateState(ctx, sub.ID, submission.StateResolved, submission.StateSkipped, nil)
		if err != nil {
			return o.swallowConcurrent(err, log)
		}
		log.Info("stale submission skipped")
		o.publish(ctx, "submission.skipped", &sub)
		o.finishMessage(ctx, sub.DedupKey)
		return nil
	}

	attempt := sub.Attempts + 1
	err = o.store.UpdateState(ctx, sub.ID, submission.StateResolved, submission.StateGrading,
		map[string]interface{}{"attempts": attempt})
	if err != nil {
		return o.swallowConcurrent(err, log)
	}
	log.WithField("attempt", attempt).Info("grading started")
	o.publish(ctx, "submission.grading", &sub)

	result, invokeErr := o.invoker.Invoke(ctx, lesson, sub.PayloadPath)
	if invokeErr == nil {
		raw, err := submission.MarshalResult(result)
		if err != nil {
			return fmt.Errorf("marshalling grading result: %w", err)
		}
		err = o.store.UpdateState(ctx, sub.ID, submission.StateGrading, submission.StateGraded,
			map[string]interface{}{"result": raw, "error_detail": ""})
		if err != nil {
			return o.swallowConcurrent(err, log)
		}
		log.WithField("total", result.Total).Info("submission graded")
		o.publish(ctx, "submission.graded", &sub)
		return nil
	}

	detail := invokeErr.Error()
	if invErr, ok := grading.AsInvocationError(invokeErr); ok {
		detail = fmt.Sprintf("%s: %s", invErr.Kind, invErr.Detail)
	}

	if attempt >= o.opts.MaxAttempts {
		err = o.store.UpdateState(ctx, sub.ID, submission.StateGrading, submission.StateFailed,
			map[string]interface{}{"error_detail": detail})
		if err != nil {
			return o.swallowConcurrent(err, log)
		}
		log.WithField("detail", detail).Warn("grading attempts exhausted")
		o.publish(ctx, "submission.grading_failed", &sub)
		return nil
	}

	err = o.store.UpdateState(ctx, sub.ID, submission.StateGrading, submission.StateResolved,
		map[string]interface{}{"error_detail": detail})
	if err != nil {
		return o.swallowConcurrent(err, log)
	}
	log.WithFields(map[string]interface{}{
		"attempt": attempt,
		"detail":  detail,
	}).Warn("grading failed, retry scheduled")
	o.publish(ctx, "submission.retry_scheduled", &sub)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context) error {
	subs, err := o.store.ListByState(ctx,
		submission.StateGraded, submission.StateRejected, submission.StateFailed)
	if err != nil {
		return fmt.Errorf("listing pending feedback: %w", err)
	}

	for _, sub := range subs {
		sub := sub
		o.guard(ctx, sub.DedupKey, func() error {
			return o.dispatchOne(ctx, sub)
		})
	}
	return nil
}

func (o *Orchestrator) dispatchOne(ctx context.Context, sub submission.Submission) error {
	log := logger.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"dedup_key":     sub.DedupKey,
		"state":         sub.State,
	})

	outcome, err := o.outcomeFor(ctx, sub)
	if err != nil {
		return err
	}
	msg, err := o.composer.Compose(outcome)
	if err != nil {
		return fmt.Errorf("composing feedback for %s: %w", sub.DedupKey, err)
	}

	if err := o.exchanger.Send(ctx, msg); err != nil {
		// Pre-dispatch state is kept; the next cycle recomposes and retries.
		log.WithError(err).Warn("feedback dispatch failed, will retry next cycle")
		return nil
	}

	target := submission.StateFeedbackSent
	eventType := "submission.feedback_sent"
	if sub.State == submission.StateFailed {
		target = submission.StateRetryExhausted
		eventType = "submission.retry_exhausted"
	}

	now := time.Now().UTC()
	err = o.store.UpdateState(ctx, sub.ID, sub.State, target,
		map[string]interface{}{"feedback_sent_at": &now})
	if err != nil {
		return o.swallowConcurrent(err, log)
	}
	log.WithField("to", msg.To).Info("feedback dispatched")
	o.publish(ctx, eventType, &sub)
	o.finishMessage(ctx, sub.DedupKey)
	return nil
}

func (o *Orchestrator) outcomeFor(ctx context.Context, sub submission.Submission) (feedback.Outcome, error) {
	switch sub.State {
	case submission.StateGraded:
		result, err := sub.GradingResult()
		if err != nil {
			return feedback.Outcome{}, fmt.Errorf("reading stored result for %s: %w", sub.DedupKey, err)
		}
		student, err := o.roster.StudentByID(ctx, sub.StudentID)
		if err != nil {
			return feedback.Outcome{}, fmt.Errorf("loading student %q: %w", sub.StudentID, err)
		}
		return feedback.Outcome{
			Kind:     feedback.KindSuccess,
			DedupKey: sub.DedupKey,
			Student:  student,
			Lesson:   sub.LessonName,
			Result:   result,
		}, nil
	case submission.StateRejected:
		return feedback.Outcome{
			Kind:     feedback.KindRejected,
			DedupKey: sub.DedupKey,
			Sender:   sub.SenderEmail,
			Reason:   resolver.Reason(sub.RejectReason),
		}, nil
	case submission.StateFailed:
		detail := fmt.Sprintf("grading of %q for student %q failed after %d attempts: %s",
			sub.LessonName, sub.StudentID, sub.Attempts, sub.ErrorDetail)
		return feedback.Outcome{
			Kind:        feedback.KindOperatorAlert,
			DedupKey:    sub.DedupKey,
			ErrorDetail: detail,
		}, nil
	default:
		return feedback.Outcome{}, fmt.Errorf("submission %s in state %s awaits no feedback", sub.DedupKey, sub.State)
	}
}

// finishMessage marks the source message processed on the transport and
// caches the dedup key. Both are best-effort: the store is the authority.
func (o *Orchestrator) finishMessage(ctx context.Context, dedupKey string) {
	if err := o.exchanger.MarkProcessed(ctx, dedupKey); err != nil {
		logger.Log.WithError(err).WithField("dedup_key", dedupKey).
			Warn("failed to mark message processed")
	}
	if o.cache != nil {
		o.cache.MarkSeen(ctx, dedupKey)
	}
}

// guard is the per-submission fault barrier: a panic or unexpected error in
// one unit of work is logged and escalated to the operator without aborting
// the rest of the cycle.
func (o *Orchestrator) guard(ctx context.Context, dedupKey string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic while processing %s: %v\n%s", dedupKey, r, debug.Stack())
			logger.Log.WithField("dedup_key", dedupKey).Error(detail)
			o.alertOperator(ctx, dedupKey, detail)
		}
	}()

	if err := fn(); err != nil {
		logger.Log.WithError(err).WithField("dedup_key", dedupKey).
			Error("unexpected fault while processing submission")
		o.alertOperator(ctx, dedupKey, err.Error())
	}
}

func (o *Orchestrator) alertOperator(ctx context.Context, dedupKey, detail string) {
	msg, err := o.composer.Compose(feedback.Outcome{
		Kind:        feedback.KindOperatorAlert,
		DedupKey:    dedupKey,
		ErrorDetail: detail,
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to compose operator alert")
		return
	}
	if err := o.exchanger.Send(ctx, msg); err != nil {
		logger.Log.WithError(err).Error("failed to send operator alert")
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, sub *submission.Submission) {
	if o.events == nil {
		return
	}
	data := map[string]interface{}{
		"submission_id": sub.ID.String(),
		"dedup_key":     sub.DedupKey,
		"student_id":    sub.StudentID,
		"lesson":        sub.LessonName,
	}
	if err := o.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).
			Warn("failed to publish audit event")
	}
}

func (o *Orchestrator) swallowConcurrent(err error, log *logrus.Entry) error {
	if errors.Is(err, submission.ErrConcurrentModification) {
		log.Debug("lost optimistic state transition, abandoning work")
		return nil
	}
	return err
}
