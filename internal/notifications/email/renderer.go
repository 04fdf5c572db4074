package email

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
	texttemplate "text/template"

	"courier/internal/notifications/core"
	"courier/internal/types"
)

//go:embed templates/layout.html templates/layout.txt
var templateFS embed.FS

// DefaultSubject is used when neither the template nor the variables carry one.
const DefaultSubject = "Notification"

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type layoutData struct {
	Subject string
	Body    template.HTML
}

type textLayoutData struct {
	Body string
}

// Renderer substitutes template placeholders and wraps the result in the
// embedded layouts. Values substituted into the HTML body are escaped.
type Renderer struct {
	html   *template.Template
	text   *texttemplate.Template
	sender types.SenderIdentity
}

// NewRenderer parses the embedded layouts. sender is used for every message.
func NewRenderer(sender types.SenderIdentity) (*Renderer, error) {
	htmlLayout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse layout.html: %w", err)
	}
	textLayout, err := texttemplate.ParseFS(templateFS, "templates/layout.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse layout.txt: %w", err)
	}
	return &Renderer{html: htmlLayout, text: textLayout, sender: sender}, nil
}

// Sender returns the configured sender identity.
func (r *Renderer) Sender() types.SenderIdentity {
	return r.sender
}

// Render produces the email for tmpl with vars substituted. The subject falls
// back to vars["subject"] and then DefaultSubject.
func (r *Renderer) Render(tmpl *types.Template, vars map[string]string) (*RenderedEmail, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("renderer: template is nil")
	}

	subject := strings.TrimSpace(core.RenderTemplate(tmpl.Subject, vars, nil))
	if subject == "" {
		subject = strings.TrimSpace(vars["subject"])
	}
	if subject == "" {
		subject = DefaultSubject
	}

	// Templates may already contain markup; only the substituted values are escaped.
	bodyHTML := core.RenderTemplate(tmpl.Body, vars, html.EscapeString)

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, layoutData{Subject: subject, Body: template.HTML(bodyHTML)}); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML: %w", err)
	}

	var textBuf bytes.Buffer
	plain := stripTags(core.RenderTemplate(tmpl.Body, vars, nil))
	if err := r.text.Execute(&textBuf, textLayoutData{Body: plain}); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text: %w", err)
	}

	return &RenderedEmail{
		Subject:  subject,
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}

var (
	breakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	tagRe   = regexp.MustCompile(`<[^>]*>`)
)

func stripTags(s string) string {
	s = breakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
