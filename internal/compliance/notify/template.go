package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Compliance {{.Severity}}]
Plant: {{.Plant}}
Rule: {{.Rule}}
Observed: {{.Observed}}
Threshold: {{.Threshold}}
Time: {{.Time}}
{{.Message}}
{{- if .Window }}
Window: {{.Window}}
{{- end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Plant     string
	Rule      string
	Severity  string
	Observed  string
	Threshold string
	Window    string
	Time      string
	Message   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("violation-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("violation template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
