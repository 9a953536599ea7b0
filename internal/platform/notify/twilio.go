package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const DefaultTwilioURL = "https://api.twilio.com"

type TwilioSender struct {
	client     *resty.Client
	accountSID string
	from       string
}

func NewTwilioSender(baseURL, accountSID, authToken, from string) *TwilioSender {
	if baseURL == "" {
		baseURL = DefaultTwilioURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(accountSID, authToken).
		SetTimeout(10 * time.Second)
	return &TwilioSender{client: client, accountSID: accountSID, from: from}
}

func (t *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": t.from,
			"Body": body,
		}).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", t.accountSID))
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio: status %d: %s", resp.StatusCode(),
			gjson.Get(resp.String(), "message").String())
	}
	if status := gjson.Get(resp.String(), "status").String(); status == "failed" || status == "undelivered" {
		return fmt.Errorf("twilio: message %s", status)
	}
	return nil
}
