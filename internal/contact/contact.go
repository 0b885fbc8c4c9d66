// SPDX-License-Identifier: MIT

// Package contact implements the contact form pipeline: validation, captcha
// verification, per-IP rate limiting, duplicate suppression and hand-off to
// an outbound mailer.
package contact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/ratelimit"
)

const (
	maxNameChars    = 120
	maxEmailChars   = 254
	maxSubjectChars = 200
	maxMessageChars = 5000
)

// Request is a submitted contact form.
type Request struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Subject        string `json:"subject"`
	Message        string `json:"message"`
	TurnstileToken string `json:"turnstileToken"`
}

// CaptchaVerifier checks an anti-bot token for a client IP.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Mailer delivers a validated contact request. SMTP delivery itself lives
// outside this service; a logging mailer ships as the default.
type Mailer interface {
	Send(ctx context.Context, req Request) error
}

// LogMailer records the contact request instead of delivering it.
type LogMailer struct{}

// Send logs the request.
func (LogMailer) Send(_ context.Context, req Request) error {
	logger := xlog.WithComponent("contact")
	logger.Info().
		Str("event", "contact.accepted").
		Str("subject", req.Subject).
		Msg("contact request handed off")
	return nil
}

// Pipeline wires the contact checks in order.
type Pipeline struct {
	captcha      CaptchaVerifier
	mailer       Mailer
	limiter      *ratelimit.Limiter
	redis        *redis.Client
	dedupePrefix string
	dedupeWindow time.Duration
	logger       zerolog.Logger
}

// Config configures a Pipeline.
type Config struct {
	MaxPerIP     int
	Window       time.Duration
	DedupeWindow time.Duration
	RedisClient  *redis.Client // nil disables deduplication
	RedisPrefix  string
	Captcha      CaptchaVerifier // nil disables captcha verification
	Mailer       Mailer
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Pipeline{
		captcha:      cfg.Captcha,
		mailer:       mailer,
		limiter:      ratelimit.New("contact", cfg.MaxPerIP, cfg.Window),
		redis:        cfg.RedisClient,
		dedupePrefix: cfg.RedisPrefix,
		dedupeWindow: cfg.DedupeWindow,
		logger:       xlog.WithComponent("contact"),
	}
}

// Handle runs the full pipeline for one submission.
func (p *Pipeline) Handle(ctx context.Context, req Request, remoteIP string) error {
	if err := Validate(req); err != nil {
		return err
	}

	if p.captcha != nil {
		if err := p.captcha.Verify(ctx, req.TurnstileToken, remoteIP); err != nil {
			return apierr.Forbidden("Captcha verification failed")
		}
	}

	if decision := p.limiter.Check(remoteIP); !decision.Allowed {
		return apierr.TooManyRequests("Too many contact requests")
	}

	if err := p.checkDuplicate(ctx, Fingerprint(req)); err != nil {
		return err
	}

	if err := p.mailer.Send(ctx, req); err != nil {
		p.logger.Error().Err(err).Str("event", "contact.send_failed").Msg("mailer hand-off failed")
		return apierr.ServiceUnavailable("Failed to submit contact request")
	}
	return nil
}

// Validate checks field presence, length bounds, address syntax and control
// characters, collecting every violation.
func Validate(req Request) error {
	var details []string
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	subject := strings.TrimSpace(req.Subject)
	message := strings.TrimSpace(req.Message)

	switch {
	case name == "":
		details = append(details, "name is required")
	case len(name) > maxNameChars:
		details = append(details, "name is too long")
	}
	switch {
	case email == "":
		details = append(details, "email is required")
	case len(email) > maxEmailChars:
		details = append(details, "email is too long")
	default:
		if _, err := mail.ParseAddress(email); err != nil {
			details = append(details, "email is invalid")
		}
	}
	switch {
	case subject == "":
		details = append(details, "subject is required")
	case len(subject) > maxSubjectChars:
		details = append(details, "subject is too long")
	}
	switch {
	case message == "":
		details = append(details, "message is required")
	case len(message) > maxMessageChars:
		details = append(details, "message is too long")
	}
	for _, field := range []string{name, email, subject} {
		if containsControlChars(field) {
			details = append(details, "fields must not contain control characters")
			break
		}
	}

	if len(details) > 0 {
		return apierr.BadRequest("Invalid contact request").WithDetails(details)
	}
	return nil
}

func containsControlChars(s string) bool {
	for _, ch := range s {
		if ch < 0x20 || ch == 0x7f {
			return true
		}
	}
	return false
}

// Fingerprint hashes the normalized submission for duplicate suppression.
func Fingerprint(req Request) string {
	normalized := strings.ToLower(strings.TrimSpace(req.Email)) + "\n" +
		strings.TrimSpace(req.Subject) + "\n" +
		strings.TrimSpace(req.Message)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// checkDuplicate claims the fingerprint with SETNX. A second submission of
// the same fingerprint within the window is a conflict.
func (p *Pipeline) checkDuplicate(ctx context.Context, fingerprint string) error {
	if p.redis == nil {
		return nil
	}
	key := p.dedupePrefix + "contact:dedupe:" + fingerprint
	claimed, err := p.redis.SetNX(ctx, key, "1", p.dedupeWindow).Result()
	if err != nil {
		p.logger.Warn().Err(err).Str("event", "contact.dedupe_unavailable").Msg("dedupe check skipped")
		return nil
	}
	if !claimed {
		return apierr.New(apierr.KindConflict, "Duplicate contact request")
	}
	return nil
}
