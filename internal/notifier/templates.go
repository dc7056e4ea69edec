package notifier

import (
	"bytes"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/good-yellow-bee/vigil/internal/models"
)

const plainTemplate = `[{{upper .Priority}}] {{.Subject}}

{{.Message}}

Scheduled: {{.ScheduledAt}}
Notification ID: {{.ID}}
`

const htmlTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <div style="border-left: 4px solid {{.PriorityColor}}; padding-left: 12px;">
    <h2 style="margin: 0 0 8px 0;">{{.Subject}}</h2>
    <p style="color: {{.PriorityColor}}; font-weight: bold;">{{.Priority}}</p>
    <p style="white-space: pre-wrap;">{{.Message}}</p>
  </div>
  <p style="color: #757575; font-size: 12px;">Scheduled {{.ScheduledAt}} &middot; {{.ID}}</p>
</body>
</html>
`

// Templates holds parsed email templates.
type Templates struct {
	html  *template.Template
	plain *texttemplate.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	ID            string
	Subject       string
	Message       string
	Priority      string
	PriorityColor string
	ScheduledAt   string
}

// LoadTemplates parses the email templates.
func LoadTemplates() (*Templates, error) {
	funcs := map[string]any{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("notification.html").Funcs(funcs).Parse(htmlTemplate)
	if err != nil {
		return nil, err
	}

	plainTmpl, err := texttemplate.New("notification.txt").Funcs(funcs).Parse(plainTemplate)
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// priorityColor returns the color for a priority level.
func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "#d32f2f" // red
	case models.PriorityHigh:
		return "#f57c00" // orange
	case models.PriorityMedium:
		return "#fbc02d" // yellow
	case models.PriorityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// subjectFor returns the item's subject or a generated one.
func subjectFor(item *models.QueueItem) string {
	if item.Subject != "" {
		return item.Subject
	}
	return "Vigil notification"
}

// ItemToTemplateData converts a queued notification to template data.
func ItemToTemplateData(item *models.QueueItem) *TemplateData {
	return &TemplateData{
		ID:            item.ID,
		Subject:       subjectFor(item),
		Message:       item.Message,
		Priority:      string(item.Priority),
		PriorityColor: priorityColor(item.Priority),
		ScheduledAt:   item.ScheduledAt.UTC().Format("2006-01-02 15:04:05 MST"),
	}
}
