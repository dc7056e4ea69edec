package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// ErrNoRecipientEmail is returned for EMAIL items without an address.
var ErrNoRecipientEmail = errors.New("recipient email is empty")

const smtpDialTimeout = 30 * time.Second

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host     string // SMTP server host
	Port     int    // 465 for implicit TLS, anything else tries STARTTLS
	Username string // optional
	Password string // optional
	From     string // "Name <addr>" or bare address
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", c.From, err)
	}
	return nil
}

// EmailNotifier sends notifications via SMTP, one recipient per item.
type EmailNotifier struct {
	config    EmailConfig
	from      *mail.Address
	templates *Templates
	now       func() time.Time
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	from, _ := mail.ParseAddress(config.From)

	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &EmailNotifier{
		config:    config,
		from:      from,
		templates: templates,
		now:       time.Now,
	}, nil
}

// Name returns "smtp".
func (e *EmailNotifier) Name() string {
	return "smtp"
}

// Send renders the item and mails it to item.RecipientEmail.
func (e *EmailNotifier) Send(ctx context.Context, item *models.QueueItem) error {
	if item.RecipientEmail == "" {
		return ErrNoRecipientEmail
	}
	to, err := mail.ParseAddress(item.RecipientEmail)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", item.RecipientEmail, err)
	}

	data := ItemToTemplateData(item)
	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}
	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("failed to render plain template: %w", err)
	}

	msg := mailMessage{
		from:     e.from,
		to:       to,
		subject:  data.Subject,
		priority: item.Priority,
		date:     e.now(),
		id:       item.ID,
		plain:    plainBody,
		html:     htmlBody,
	}
	return e.deliver(ctx, to.Address, msg.bytes(e.config.Host))
}

// Close is a no-op for email notifier.
func (e *EmailNotifier) Close() error {
	return nil
}

// mailMessage is a multipart/alternative message with a plain and an HTML
// part.
type mailMessage struct {
	from, to    *mail.Address
	subject     string
	priority    models.Priority
	date        time.Time
	id          string
	plain, html string
}

// xPriority maps queue priorities onto the 1 (highest) to 5 scale mail
// clients understand.
func xPriority(p models.Priority) int {
	switch p {
	case models.PriorityUrgent:
		return 1
	case models.PriorityHigh:
		return 2
	case models.PriorityLow:
		return 5
	default:
		return 3
	}
}

func (m mailMessage) bytes(host string) []byte {
	boundary := "vigil-" + uuid.New().String()
	msgID := m.id
	if msgID == "" {
		msgID = uuid.New().String()
	}

	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", m.from.String())
	header("To", m.to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", m.subject))
	header("Date", m.date.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", msgID, host))
	header("X-Priority", strconv.Itoa(xPriority(m.priority)))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	b.WriteString("\r\n")

	part := func(contentType, body string) {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		header("Content-Type", contentType+"; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(body)
		b.WriteString("\r\n")
	}
	part("text/plain", m.plain)
	part("text/html", m.html)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.Bytes()
}

// deliver runs one SMTP transaction.
func (e *EmailNotifier) deliver(ctx context.Context, rcpt string, msg []byte) error {
	client, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.from.Address); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}
	return client.Quit()
}

// dial connects with implicit TLS on port 465 and upgrades with STARTTLS
// elsewhere when the server offers it. The connection inherits ctx's
// deadline.
func (e *EmailNotifier) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	tlsConfig := &tls.Config{ServerName: e.config.Host}
	implicitTLS := e.config.Port == 465

	var (
		conn net.Conn
		err  error
	)
	if implicitTLS {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: smtpDialTimeout}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{Timeout: smtpDialTimeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if implicitTLS {
		return client, nil
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}
