package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const DefaultSendGridURL = "https://api.sendgrid.com"

type SendGridSender struct {
	client *resty.Client
	from   string
}

func NewSendGridSender(baseURL, apiKey, from string) *SendGridSender {
	if baseURL == "" {
		baseURL = DefaultSendGridURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second)
	return &SendGridSender{client: client, from: from}
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sgMail{
			Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
			From:             sgAddress{Email: s.from},
			Subject:          subject,
			Content:          []sgContent{{Type: "text/plain", Value: body}},
		}).
		Post("/v3/mail/send")
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode(),
			gjson.Get(resp.String(), "errors.0.message").String())
	}
	return nil
}
