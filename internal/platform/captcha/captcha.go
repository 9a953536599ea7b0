// Package captcha verifies Google reCAPTCHA tokens.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var ErrFailed = errors.New("captcha verification failed")

type Verifier struct {
	client   *resty.Client
	url      string
	secret   string
	minScore float64
}

// NewVerifier returns a verifier posting to verifyURL. An empty secret
// disables verification.
func NewVerifier(verifyURL, secret string, minScore float64) *Verifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	client := resty.New().SetTimeout(5 * time.Second)
	return &Verifier{client: client, url: verifyURL, secret: secret, minScore: minScore}
}

func (v *Verifier) Enabled() bool { return v != nil && v.secret != "" }

// Verify returns nil when the token is accepted, ErrFailed when Google rejects
// it and a transport error otherwise.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if !v.Enabled() {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrFailed)
	}

	form := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" {
		form["remoteip"] = remoteIP
	}

	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(v.url)
	if err != nil {
		return fmt.Errorf("captcha request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("captcha request: unexpected status %d", resp.StatusCode())
	}

	body := resp.String()
	if !gjson.Get(body, "success").Bool() {
		codes := gjson.Get(body, "error-codes").String()
		return fmt.Errorf("%w: %s", ErrFailed, codes)
	}
	if score := gjson.Get(body, "score"); score.Exists() && score.Float() < v.minScore {
		return fmt.Errorf("%w: score %.2f below %.2f", ErrFailed, score.Float(), v.minScore)
	}
	return nil
}
