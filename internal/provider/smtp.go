package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/kursadbilgin/notification-dispatch/internal/auth"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const smtpOKCode = 250

// SMTPConfig configures the SMTP mail provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// DefaultFrom is used when a notification carries no sender.
	DefaultFrom string
	// OAuthResource is the resource bearer tokens are requested for when a token
	// provider is configured.
	OAuthResource string
}

// MailSender delivers composed messages. *gomail.Dialer implements it.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

var _ Provider = (*SMTPProvider)(nil)

// SMTPProvider sends notifications through an SMTP relay with gomail, authenticating
// with XOAUTH2 when a token provider is set and with PLAIN/LOGIN otherwise.
type SMTPProvider struct {
	cfg       SMTPConfig
	tokens    auth.TokenProvider
	newSender func(a smtp.Auth) MailSender
	now       func() time.Time
}

func NewSMTPProvider(cfg SMTPConfig, tokens auth.TokenProvider) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}
	if tokens != nil && strings.TrimSpace(cfg.OAuthResource) == "" {
		return nil, fmt.Errorf("oauth resource is required with a token provider")
	}

	p := &SMTPProvider{cfg: cfg, tokens: tokens, now: time.Now}
	p.newSender = func(a smtp.Auth) MailSender {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		if a != nil {
			d.Auth = a
		}
		return d
	}
	return p, nil
}

func (p *SMTPProvider) Send(ctx context.Context, n domain.NotificationRecord) (*ProviderResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := n.ValidateContent(); err != nil {
		return nil, &ProviderError{Message: "invalid notification", Cause: err}
	}

	from := strings.TrimSpace(n.From)
	if from == "" {
		from = p.cfg.DefaultFrom
	}
	if from == "" {
		return nil, &ProviderError{Message: "notification has no sender and no default sender is configured"}
	}

	var smtpAuth smtp.Auth
	if p.tokens != nil {
		token, err := p.tokens.GetBearerToken(ctx, p.cfg.OAuthResource)
		if err != nil {
			return nil, &ProviderError{Message: "failed to acquire smtp token", Transient: true, Cause: err}
		}
		smtpAuth = &xoauth2Auth{username: p.username(from), token: token}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.cfg.Host)
	msg, err := p.compose(n, from, messageID)
	if err != nil {
		return nil, &ProviderError{Message: "failed to compose message", Cause: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, classifySendError(err)
	}
	if err := p.newSender(smtpAuth).DialAndSend(msg); err != nil {
		return nil, classifySendError(err)
	}

	return &ProviderResponse{StatusCode: smtpOKCode, MessageID: messageID, Account: from}, nil
}

func (p *SMTPProvider) username(from string) string {
	if p.cfg.Username != "" {
		return p.cfg.Username
	}
	return from
}

func (p *SMTPProvider) compose(n domain.NotificationRecord, from string, messageID string) (*gomail.Message, error) {
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("From", from)
	if len(n.To) > 0 {
		m.SetHeader("To", n.To...)
	}
	if len(n.CC) > 0 {
		m.SetHeader("Cc", n.CC...)
	}
	if len(n.BCC) > 0 {
		m.SetHeader("Bcc", n.BCC...)
	}
	if n.ReplyTo != "" {
		m.SetHeader("Reply-To", n.ReplyTo)
	}
	m.SetHeader("Subject", n.Subject)
	m.SetDateHeader("Date", p.now())
	m.SetHeader("Importance", importanceHeader(n.Priority))
	if n.Sensitivity != "" && n.Sensitivity != domain.SensitivityNormal {
		m.SetHeader("Sensitivity", sensitivityHeader(n.Sensitivity))
	}
	if n.TrackingID != "" {
		m.SetHeader("X-Tracking-Id", n.TrackingID)
	}
	m.SetHeader("X-Notification-Id", n.NotificationID)

	m.SetBody("text/html", decodeBody(n.Body))

	if n.Type == domain.TypeMeeting {
		invite, err := buildInvite(n, from, p.now())
		if err != nil {
			return nil, err
		}
		m.AddAlternative("text/calendar; method=REQUEST; charset=UTF-8", invite)
	}
	return m, nil
}

// decodeBody returns the HTML of a base64 body, or the body as-is when it is not base64.
func decodeBody(body *string) string {
	if body == nil {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(*body)
	if err != nil {
		return *body
	}
	return string(decoded)
}

func importanceHeader(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return "high"
	case domain.PriorityLow:
		return "low"
	}
	return "normal"
}

func sensitivityHeader(s domain.Sensitivity) string {
	if s == domain.SensitivityConfidential {
		return "Company-Confidential"
	}
	return s.String()
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism.
type xoauth2Auth struct {
	username string
	token    string
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server != nil && !server.TLS && server.Name != "localhost" && server.Name != "127.0.0.1" {
		return "", nil, fmt.Errorf("xoauth2 requires an encrypted connection")
	}
	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

func (a *xoauth2Auth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		// The server sent an error challenge; an empty response completes the exchange.
		return []byte{}, nil
	}
	return nil, nil
}
