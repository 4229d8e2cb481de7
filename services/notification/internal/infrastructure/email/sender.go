package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

const defaultTimeout = 10 * time.Second

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	cfg      config.SMTP
	breaker  *gobreaker.CircuitBreaker
	sendMail sendFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, tracer trace.Tracer, logger *zap.Logger) Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return newSMTPSender(cfg, sendMail(cfg.Timeout), tracer, logger)
}

func newSMTPSender(cfg config.SMTP, send sendFunc, tracer trace.Tracer, logger *zap.Logger) *smtpSender {
	return &smtpSender{
		cfg:      cfg,
		breaker:  utils.NewBreaker("SMTP", logger),
		sendMail: send,
		logger:   logger,
		tracer:   tracer,
	}
}

func (s *smtpSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("subject", subject),
	)

	msg := buildMessage(s.cfg.From, to, subject, htmlBody, time.Now())
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	mylogger.Info(ctx, s.logger, "Sending email", zap.String("to", to), zap.String("subject", subject))

	_, err := utils.ExecuteWithBreaker(s.breaker, func() (struct{}, error) {
		return struct{}{}, s.sendMail(ctx, addr, auth, s.cfg.From, []string{to}, msg)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("to", to),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Email sent successfully", zap.String("to", to))
	return nil
}

// sendMail follows smtp.SendMail but bounds the dial by timeout and the whole
// conversation by the earlier of ctx's deadline and now+timeout. Cancelling
// ctx aborts a conversation in flight.
func sendMail(timeout time.Duration) sendFunc {
	return func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		dialer := net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}

		deadline := time.Now().Add(timeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return err
		}

		stop := context.AfterFunc(ctx, func() {
			_ = conn.SetDeadline(time.Now())
		})
		defer stop()

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			_ = conn.Close()
			return err
		}

		c, err := smtp.NewClient(conn, host)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("smtp greeting: %w", err)
		}
		defer c.Close()

		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}

		if a != nil {
			if ok, _ := c.Extension("AUTH"); !ok {
				return errors.New("smtp: server doesn't support AUTH")
			}
			if err := c.Auth(a); err != nil {
				return err
			}
		}

		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}

		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}

		return c.Quit()
	}
}

func buildMessage(from, to, subject, htmlBody string, now time.Time) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	return []byte(b.String())
}
