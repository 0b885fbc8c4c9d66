// SPDX-License-Identifier: MIT

package contact

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
)

func validRequest() Request {
	return Request{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Subject: "Hello",
		Message: "I would like to know more about the radio directory.",
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	err := Validate(Request{Email: "not-an-email"})
	require.Error(t, err)
	apiErr := apierr.From(err)
	assert.Equal(t, apierr.KindBadRequest, apiErr.Kind)
	assert.Contains(t, apiErr.Details, "name is required")
	assert.Contains(t, apiErr.Details, "email is invalid")
	assert.Contains(t, apiErr.Details, "subject is required")
	assert.Contains(t, apiErr.Details, "message is required")
}

func TestValidateRejectsControlChars(t *testing.T) {
	req := validRequest()
	req.Subject = "evil\r\nBcc: spam@example.com"
	err := Validate(req)
	require.Error(t, err)
	assert.Contains(t, apierr.From(err).Details, "fields must not contain control characters")
}

func TestValidateAcceptsGoodRequest(t *testing.T) {
	assert.NoError(t, Validate(validRequest()))
}

func TestFingerprintNormalizes(t *testing.T) {
	a := validRequest()
	b := validRequest()
	b.Email = "  ADA@example.com "
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Message = "different"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestPipelineDedupesWithinWindow(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	pipeline := New(Config{
		MaxPerIP:     10,
		Window:       time.Minute,
		DedupeWindow: time.Minute,
		RedisClient:  client,
		RedisPrefix:  "gateway:",
	})

	require.NoError(t, pipeline.Handle(context.Background(), validRequest(), "203.0.113.1"))

	err := pipeline.Handle(context.Background(), validRequest(), "203.0.113.1")
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.From(err).Kind)

	// Expiring the dedupe key readmits the fingerprint.
	server.FastForward(2 * time.Minute)
	assert.NoError(t, pipeline.Handle(context.Background(), validRequest(), "203.0.113.1"))
}

func TestPipelineRateLimits(t *testing.T) {
	pipeline := New(Config{MaxPerIP: 2, Window: time.Minute})

	first := validRequest()
	require.NoError(t, pipeline.Handle(context.Background(), first, "203.0.113.2"))

	second := validRequest()
	second.Message = "a different message entirely"
	require.NoError(t, pipeline.Handle(context.Background(), second, "203.0.113.2"))

	third := validRequest()
	third.Message = "yet another different message"
	err := pipeline.Handle(context.Background(), third, "203.0.113.2")
	require.Error(t, err)
	assert.Equal(t, apierr.KindTooManyRequests, apierr.From(err).Kind)
}

type rejectingCaptcha struct{}

func (rejectingCaptcha) Verify(context.Context, string, string) error {
	return assert.AnError
}

func TestPipelineRequiresCaptcha(t *testing.T) {
	pipeline := New(Config{MaxPerIP: 10, Window: time.Minute, Captcha: rejectingCaptcha{}})
	err := pipeline.Handle(context.Background(), validRequest(), "203.0.113.3")
	require.Error(t, err)
	assert.Equal(t, apierr.KindForbidden, apierr.From(err).Kind)
}
