// Package notify sends member notices by SMTP.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends notices. Sends run in the background; Wait drains them.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewService(config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		log:    logger.Named("notify"),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-member-portal"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ProfileUpdatedData fills the profile-updated notice.
type ProfileUpdatedData struct {
	AppName    string
	MemberName string
	Section    string
	Fields     []string
	UpdatedAt  string
}

// ProfileUpdated queues a notice telling the member which fields of a
// section changed. It is a no-op when SMTP is not configured or to is empty.
func (s *Service) ProfileUpdated(to, memberName, section string, fields []string, at time.Time) {
	if !s.IsConfigured() || strings.TrimSpace(to) == "" {
		return
	}
	data := ProfileUpdatedData{
		AppName:    "Member Portal",
		MemberName: firstNonBlank(memberName, "member"),
		Section:    section,
		Fields:     fields,
		UpdatedAt:  at.UTC().Format("2 Jan 2006 15:04 MST"),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sendProfileUpdated(to, data); err != nil {
			s.log.Warn("send profile updated notice", zap.String("section", section), zap.Error(err))
		}
	}()
}

func (s *Service) sendProfileUpdated(to string, data ProfileUpdatedData) error {
	html, err := renderTemplate(profileUpdatedTemplate, data)
	if err != nil {
		return fmt.Errorf("render profile updated template: %w", err)
	}
	text := fmt.Sprintf("Hi %s, your %s details were updated on %s (%s). If you did not make this change, contact us.",
		data.MemberName, data.Section, data.UpdatedAt, strings.Join(data.Fields, ", "))
	return s.SendHTMLEmail([]string{to}, "Your member profile was updated", text, html)
}

// Wait blocks until queued notices have been handed to the SMTP server.
func (s *Service) Wait() {
	s.wg.Wait()
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

const profileUpdatedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your {{.AppName}} profile was updated</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.MemberName}},</p>

    <p>Your <strong>{{.Section}}</strong> details were updated on {{.UpdatedAt}}. Changed fields:</p>
    <ul>
    {{range .Fields}}<li>{{.}}</li>
    {{end}}</ul>

    <div class="warning">
        <strong>Did not make this change?</strong> Contact member services right away.
    </div>

    <div class="footer">
        <p>You are receiving this because the contact details on your member record changed.</p>
    </div>
</body>
</html>`
