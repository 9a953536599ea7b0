package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender(t *testing.T) {
	f := &fakeSES{}
	s := NewSESSender(f, "noreply@hms.test")

	require.NoError(t, s.SendEmail(context.Background(), "pat@hms.test", "Hello", "Body"))
	assert.Equal(t, "noreply@hms.test", aws.ToString(f.in.FromEmailAddress))
	assert.Equal(t, []string{"pat@hms.test"}, f.in.Destination.ToAddresses)
	assert.Equal(t, "Hello", aws.ToString(f.in.Content.Simple.Subject.Data))
	assert.Equal(t, "Body", aws.ToString(f.in.Content.Simple.Body.Text.Data))
}

func TestSESSender_Error(t *testing.T) {
	s := NewSESSender(&fakeSES{err: errors.New("throttled")}, "noreply@hms.test")
	err := s.SendEmail(context.Background(), "pat@hms.test", "Hello", "Body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

type fakeSNS struct {
	in *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{MessageId: aws.String("m")}, nil
}

func TestSNSSender(t *testing.T) {
	f := &fakeSNS{}
	s := NewSNSSender(f, "HMS")

	require.NoError(t, s.SendSMS(context.Background(), "+15550100", "hi"))
	assert.Equal(t, "+15550100", aws.ToString(f.in.PhoneNumber))
	assert.Equal(t, "hi", aws.ToString(f.in.Message))
	assert.Equal(t, "Transactional", aws.ToString(f.in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))
	assert.Equal(t, "HMS", aws.ToString(f.in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}

func TestSendGridSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))

		raw, _ := io.ReadAll(r.Body)
		var m sgMail
		require.NoError(t, json.Unmarshal(raw, &m))
		assert.Equal(t, "pat@hms.test", m.Personalizations[0].To[0].Email)
		assert.Equal(t, "noreply@hms.test", m.From.Email)
		assert.Equal(t, "Subject", m.Subject)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender(srv.URL, "SG.key", "noreply@hms.test")
	assert.NoError(t, s.SendEmail(context.Background(), "pat@hms.test", "Subject", "Body"))
}

func TestSendGridSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s := NewSendGridSender(srv.URL, "SG.key", "noreply@hms.test")
	err := s.SendEmail(context.Background(), "pat@hms.test", "Subject", "Body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestTwilioSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "tok", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550100", r.PostForm.Get("To"))
		assert.Equal(t, "+15550199", r.PostForm.Get("From"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(srv.URL, "AC123", "tok", "+15550199")
	assert.NoError(t, s.SendSMS(context.Background(), "+15550100", "hi"))
}

func TestTwilioSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To number"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(srv.URL, "AC123", "tok", "+15550199")
	err := s.SendSMS(context.Background(), "nope", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid To number")
}
