package feedback

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/coursegrader/platform/pkg/mail"
	"github.com/coursegrader/platform/pkg/resolver"
	"github.com/coursegrader/platform/pkg/roster"
	"github.com/coursegrader/platform/pkg/submission"
)

type Kind string

const (
	KindSuccess       Kind = "success"
	KindRejected      Kind = "rejected"
	KindOperatorAlert Kind = "operator_alert"
)

// Outcome is the structured input to composition. Exactly one of the three
// kinds applies; the fields a kind does not use stay zero.
type Outcome struct {
	Kind     Kind
	DedupKey string

	// Success
	Student *roster.Student
	Lesson  string
	Result  *submission.GradingResult

	// Rejected
	Sender string
	Reason resolver.Reason

	// OperatorAlert
	ErrorDetail string
}

// Composer builds outgoing messages from outcomes. It is pure: no I/O, no
// clock, fully determined by its inputs and templates.
type Composer struct {
	course   string
	keyword  string
	operator string
	tpl      Templates
}

func NewComposer(course, keyword, operatorEmail string, tpl Templates) *Composer {
	return &Composer{course: course, keyword: keyword, operator: operatorEmail, tpl: tpl}
}

func (c *Composer) Compose(outcome Outcome) (mail.OutgoingMessage, error) {
	switch outcome.Kind {
	case KindSuccess:
		return c.composeSuccess(outcome)
	case KindRejected:
		if outcome.Sender == "" {
			// No address to answer; escalate instead of dropping.
			alert := outcome
			alert.Kind = KindOperatorAlert
			alert.ErrorDetail = fmt.Sprintf("rejection %q has no determinable sender", outcome.Reason)
			return c.composeAlert(alert)
		}
		return c.composeRejection(outcome)
	case KindOperatorAlert:
		return c.composeAlert(outcome)
	default:
		return mail.OutgoingMessage{}, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}
}

func (c *Composer) composeSuccess(outcome Outcome) (mail.OutgoingMessage, error) {
	if outcome.Student == nil || outcome.Result == nil {
		return mail.OutgoingMessage{}, fmt.Errorf("success outcome for %s is missing student or result", outcome.DedupKey)
	}
	data := map[string]interface{}{
		"Course":   c.course,
		"Lesson":   outcome.Lesson,
		"Name":     outcome.Student.DisplayName(),
		"Total":    outcome.Result.Total,
		"MaxTotal": outcome.Result.MaxTotal,
		"Tasks":    outcome.Result.TaskScores,
		"Remarks":  outcome.Result.Remarks,
	}
	subject, err := c.render("success_subject", c.tpl.SuccessSubject, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	body, err := c.render("success_body", c.tpl.SuccessBody, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	return mail.OutgoingMessage{
		To:      outcome.Student.Email,
		ToName:  outcome.Student.DisplayName(),
		Subject: subject,
		Body:    body,
	}, nil
}

func (c *Composer) composeRejection(outcome Outcome) (mail.OutgoingMessage, error) {
	bodyTpl, ok := c.tpl.RejectionBodies[string(outcome.Reason)]
	if !ok {
		return mail.OutgoingMessage{}, fmt.Errorf("no rejection template for reason %q", outcome.Reason)
	}
	data := map[string]interface{}{
		"Course":   c.course,
		"Keyword":  c.keyword,
		"Operator": c.operator,
	}
	subject, err := c.render("rejection_subject", c.tpl.RejectionSubject, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	body, err := c.render("rejection_body", bodyTpl, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	return mail.OutgoingMessage{To: outcome.Sender, Subject: subject, Body: body}, nil
}

func (c *Composer) composeAlert(outcome Outcome) (mail.OutgoingMessage, error) {
	data := map[string]interface{}{
		"Course":   c.course,
		"DedupKey": outcome.DedupKey,
		"Detail":   outcome.ErrorDetail,
	}
	subject, err := c.render("alert_subject", c.tpl.AlertSubject, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	body, err := c.render("alert_body", c.tpl.AlertBody, data)
	if err != nil {
		return mail.OutgoingMessage{}, err
	}
	return mail.OutgoingMessage{To: c.operator, Subject: subject, Body: body}, nil
}

func (c *Composer) render(name, src string, data map[string]interface{}) (string, error) {
	tpl, err := template.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", name, err)
	}
	return buf.String(), nil
}
