// Package notify delivers email and SMS through AWS SES/SNS with SendGrid and
// Twilio as fallbacks, and renders the built-in message templates.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Channel is the medium a message is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// EmailSender sends a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a single text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ErrNoProvider is returned when a channel has no configured provider.
var ErrNoProvider = errors.New("notify: no provider configured")

type namedEmail struct {
	name   string
	sender EmailSender
}

type namedSMS struct {
	name   string
	sender SMSSender
}

// Chain tries the primary provider of a channel and, if it fails, the fallback
// once. There is no further retry.
type Chain struct {
	emails []namedEmail
	sms    []namedSMS
	logger zerolog.Logger
}

func NewChain(logger zerolog.Logger) *Chain {
	return &Chain{logger: logger}
}

// AddEmail appends an email provider. The first added is the primary.
func (c *Chain) AddEmail(name string, s EmailSender) *Chain {
	if s != nil {
		c.emails = append(c.emails, namedEmail{name: name, sender: s})
	}
	return c
}

// AddSMS appends an SMS provider. The first added is the primary.
func (c *Chain) AddSMS(name string, s SMSSender) *Chain {
	if s != nil {
		c.sms = append(c.sms, namedSMS{name: name, sender: s})
	}
	return c
}

func (c *Chain) EmailProviders() int { return len(c.emails) }
func (c *Chain) SMSProviders() int   { return len(c.sms) }

// SendEmail returns the name of the provider that accepted the message.
func (c *Chain) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if len(c.emails) == 0 {
		return "", fmt.Errorf("%w: email", ErrNoProvider)
	}
	var errs []error
	for i, p := range c.emails[:min(2, len(c.emails))] {
		err := p.sender.SendEmail(ctx, to, subject, body)
		if err == nil {
			if i > 0 {
				c.logger.Info().Str("provider", p.name).Msg("email delivered by fallback provider")
			}
			return p.name, nil
		}
		c.logger.Warn().Err(err).Str("provider", p.name).Msg("email provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return "", errors.Join(errs...)
}

// SendSMS returns the name of the provider that accepted the message.
func (c *Chain) SendSMS(ctx context.Context, to, body string) (string, error) {
	if len(c.sms) == 0 {
		return "", fmt.Errorf("%w: sms", ErrNoProvider)
	}
	var errs []error
	for i, p := range c.sms[:min(2, len(c.sms))] {
		err := p.sender.SendSMS(ctx, to, body)
		if err == nil {
			if i > 0 {
				c.logger.Info().Str("provider", p.name).Msg("sms delivered by fallback provider")
			}
			return p.name, nil
		}
		c.logger.Warn().Err(err).Str("provider", p.name).Msg("sms provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return "", errors.Join(errs...)
}
