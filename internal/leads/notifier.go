package leads

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/resendlabs/resend-go"

	"example.com/planwidget/internal/capture"
	"example.com/planwidget/internal/config"
)

var leadEmailTemplate = template.Must(template.New("lead").Parse(`<h2>New plan studio lead</h2>
<p><strong>{{.FirstName}} {{.LastName}}</strong> unlocked more designs on plan <strong>{{.PlanID}}</strong>.</p>
<ul>
  <li>Email: <a href="mailto:{{.Email}}">{{.Email}}</a></li>
  <li>Phone: {{.Phone}}</li>
  <li>Captured: {{.CapturedAt.Format "Jan 2, 2006 15:04 MST"}}</li>
</ul>
{{if .Modifications}}<h3>What they explored</h3>
<ol>
{{range .Modifications}}  <li>{{.Type}}{{if .StylePreset}} ({{.StylePreset}}){{end}}{{if .Prompt}}: {{.Prompt}}{{end}}{{if .ResultURL}} <a href="{{.ResultURL}}">view</a>{{end}}</li>
{{end}}</ol>{{end}}
`))

// Notifier emails the builder's sales team about a captured lead via Resend.
type Notifier struct {
	send       func(*resend.SendEmailRequest) error
	from       string
	fallbackTo string
	recipients map[string]string
}

// NewNotifier returns nil when no Resend API key is configured.
func NewNotifier(cfg config.NotifyConfig) *Notifier {
	if cfg.ResendAPIKey == "" {
		return nil
	}
	client := resend.NewClient(cfg.ResendAPIKey)
	return newNotifier(func(req *resend.SendEmailRequest) error {
		_, err := client.Emails.Send(req)
		return err
	}, cfg)
}

func newNotifier(send func(*resend.SendEmailRequest) error, cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		send:       send,
		from:       cfg.From,
		fallbackTo: cfg.To,
		recipients: cfg.Recipients,
	}
}

// RecipientFor returns the sales address for a builder, falling back to the
// default recipient.
func (n *Notifier) RecipientFor(builderSlug string) string {
	if n == nil {
		return ""
	}
	if to, ok := n.recipients[builderSlug]; ok && to != "" {
		return to
	}
	return n.fallbackTo
}

// Notify sends the lead email. It reports false without error when the
// builder has no recipient.
func (n *Notifier) Notify(lead capture.Lead) (bool, error) {
	to := n.RecipientFor(lead.BuilderSlug)
	if to == "" {
		return false, nil
	}
	var body bytes.Buffer
	if err := leadEmailTemplate.Execute(&body, lead); err != nil {
		return false, fmt.Errorf("render lead email: %w", err)
	}
	name := strings.TrimSpace(lead.FirstName + " " + lead.LastName)
	req := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{to},
		Subject: fmt.Sprintf("New lead: %s (%s)", name, lead.PlanID),
		Html:    body.String(),
	}
	if err := n.send(req); err != nil {
		return false, fmt.Errorf("send lead email via Resend: %w", err)
	}
	return true, nil
}
