// Package notify sends account emails about purchases, refunds and finished
// generation jobs. Delivery is best effort; callers log and move on.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/resendlabs/resend-go"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Resend delivers through the Resend API.
type Resend struct {
	client   *resend.Client
	from     string
	fromName string
	log      *slog.Logger
}

func NewResend(apiKey, from, fromName string, log *slog.Logger) *Resend {
	if log == nil {
		log = slog.Default()
	}
	return &Resend{
		client:   resend.NewClient(apiKey),
		from:     from,
		fromName: fromName,
		log:      log,
	}
}

func (r *Resend) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := r.client.Emails.Send(&resend.SendEmailRequest{
		From:    r.fromName + " <" + r.from + ">",
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("send email %q: %w", msg.Subject, err)
	}
	r.log.Info("email sent", "subject", msg.Subject, "id", resp.Id)
	return nil
}

// Log writes messages to the logger instead of sending them.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, msg Message) error {
	l.log.Info("email suppressed", "to", msg.To, "subject", msg.Subject)
	return nil
}

var templates = template.Must(template.New("").Parse(`
{{define "purchase"}}<p>Hi {{.Name}},</p>
<p>Your purchase of the <strong>{{.Package}}</strong> package is complete. {{.Credits}} credits were added to your account.</p>
<p>New balance: {{.Balance}} credits.</p>{{end}}
{{define "payment_failed"}}<p>Hi {{.Name}},</p>
<p>Your payment for the <strong>{{.Package}}</strong> package did not go through. No credits were added.</p>{{end}}
{{define "purchase_refunded"}}<p>Hi {{.Name}},</p>
<p>Your payment for the <strong>{{.Package}}</strong> package was refunded and {{.Credits}} credits were removed.</p>
<p>New balance: {{.Balance}} credits.</p>{{end}}
{{define "generation_completed"}}<p>Hi {{.Name}},</p>
<p>Your video <strong>{{.Title}}</strong> is ready: <a href="{{.URL}}">{{.URL}}</a></p>{{end}}
{{define "generation_failed"}}<p>Hi {{.Name}},</p>
<p>Your video <strong>{{.Title}}</strong> could not be generated ({{.Reason}}). {{.Credits}} credits were returned to your account.</p>{{end}}
`))

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return ""
	}
	return buf.String()
}

func PurchaseCompleted(to, name, pkg string, credits, balance int) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%d credits added to your account", credits),
		HTML:    render("purchase", map[string]any{"Name": name, "Package": pkg, "Credits": credits, "Balance": balance}),
	}
}

func PaymentFailed(to, name, pkg string) Message {
	return Message{
		To:      to,
		Subject: "Your payment did not go through",
		HTML:    render("payment_failed", map[string]any{"Name": name, "Package": pkg}),
	}
}

func PurchaseRefunded(to, name, pkg string, credits, balance int) Message {
	return Message{
		To:      to,
		Subject: "Your payment was refunded",
		HTML:    render("purchase_refunded", map[string]any{"Name": name, "Package": pkg, "Credits": credits, "Balance": balance}),
	}
}

func GenerationCompleted(to, name, title, url string) Message {
	return Message{
		To:      to,
		Subject: "Your video is ready",
		HTML:    render("generation_completed", map[string]any{"Name": name, "Title": title, "URL": url, "Year": time.Now().Year()}),
	}
}

func GenerationFailed(to, name, title, reason string, credits int) Message {
	return Message{
		To:      to,
		Subject: "Your video could not be generated",
		HTML:    render("generation_failed", map[string]any{"Name": name, "Title": title, "Reason": reason, "Credits": credits}),
	}
}
