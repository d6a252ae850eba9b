package feedback

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Templates holds the user-facing message texts. Bodies are text/template
// sources; see composer.go for the data each one receives.
type Templates struct {
	SuccessSubject string `yaml:"success_subject"`
	SuccessBody    string `yaml:"success_body"`

	RejectionSubject string            `yaml:"rejection_subject"`
	RejectionBodies  map[string]string `yaml:"rejection_bodies"`

	AlertSubject string `yaml:"alert_subject"`
	AlertBody    string `yaml:"alert_body"`
}

func LoadTemplates(path string) (Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultTemplates(), err
	}

	tpl := DefaultTemplates()
	if err := yaml.Unmarshal(content, &tpl); err != nil {
		return Templates{}, err
	}
	if tpl.SuccessBody == "" {
		return Templates{}, errors.New("success_body template must not be empty")
	}
	return tpl, nil
}

func DefaultTemplates() Templates {
	return Templates{
		SuccessSubject: "{{.Course}}: {{.Lesson}} graded",
		SuccessBody: `Hi {{.Name}},

your submission for "{{.Lesson}}" has been graded.

Total: {{printf "%.1f" .Total}} / {{printf "%.1f" .MaxTotal}}
{{range .Tasks}}
- {{.Name}}: {{printf "%.1f" .Score}} / {{printf "%.1f" .MaxScore}}{{end}}
{{if .Remarks}}
Remarks: {{.Remarks}}
{{end}}
Best regards,
{{.Course}} autograder`,

		RejectionSubject: "{{.Course}}: submission could not be graded",
		RejectionBodies: map[string]string{
			"unknown_sender": `Hi,

your message was sent from an address that is not enrolled in {{.Course}}.
Please submit from your registered email address, or contact {{.Operator}}.`,
			"malformed_subject": `Hi,

the subject of your message could not be understood. Please use the form
"{{.Keyword}} / <lesson name>" and resend your submission.`,
			"unknown_lesson": `Hi,

the lesson named in your subject is not part of {{.Course}}. Please check
the lesson name and resend your submission.`,
			"missing_attachment": `Hi,

your message does not contain a notebook file. Please attach the completed
assignment notebook and resend your submission.`,
		},

		AlertSubject: "{{.Course}}: grading pipeline alert",
		AlertBody: `Submission {{.DedupKey}} requires attention.

{{.Detail}}`,
	}
}
