package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"
	"sync"
	"time"

	"github.com/jordan-wright/email"
	"github.com/knadh/smtppool"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the pooled SMTP transport.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	MaxConns           int
	SendTimeout        time.Duration
	InsecureSkipVerify bool
}

// SMTPSender sends over a pooled SMTP connection, reconnecting the pool
// after a failed send and falling back to a direct unpooled delivery while
// the pool cannot be established.
type SMTPSender struct {
	config SMTPConfig

	mu   sync.Mutex
	pool *smtppool.Pool
}

// NewSMTPSender connects the pool. A connection failure is not fatal: the
// sender starts degraded and retries the pool on the next send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("mailer: smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mailer: from address is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s := &SMTPSender{config: cfg}
	s.pool, _ = connect(cfg)
	return s, nil
}

func connect(cfg SMTPConfig) (*smtppool.Pool, error) {
	return smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     cfg.SendTimeout,
		PoolWaitTimeout: cfg.SendTimeout,
		Auth:            cfg.auth(),
		TLSConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	})
}

func (c SMTPConfig) auth() smtp.Auth {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return smtp.PlainAuth("", c.Username, c.Password, c.Host)
}

// Send delivers msg through the pool, or directly when no pool is up.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	if pool == nil {
		return s.sendDirect(msg)
	}

	err := pool.Send(smtppool.Email{
		To:      []string{msg.To},
		From:    s.config.From,
		Subject: msg.Subject,
		HTML:    []byte(msg.HTML),
		Headers: textproto.MIMEHeader{},
	})
	if err == nil {
		return nil
	}

	// Rebuild the pool for the next caller and try an unpooled delivery
	// for this message.
	s.mu.Lock()
	if s.pool == pool {
		pool.Close()
		s.pool, _ = connect(s.config)
	}
	s.mu.Unlock()

	if directErr := s.sendDirect(msg); directErr == nil {
		return nil
	}
	return fmt.Errorf("mailer: smtp send: %w", err)
}

func (s *SMTPSender) sendDirect(msg Message) error {
	e := &email.Email{
		To:      []string{msg.To},
		From:    s.config.From,
		Subject: msg.Subject,
		HTML:    []byte(msg.HTML),
		Headers: textproto.MIMEHeader{},
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	return e.Send(addr, s.config.auth())
}

// Close releases the pooled connections.
func (s *SMTPSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

// MemorySender records messages in memory. Test double.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// FailWith makes subsequent sends return err. Pass nil to recover.
func (s *MemorySender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything delivered so far.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
