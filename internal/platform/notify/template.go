package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Template is a message with {{key}} placeholders.
type Template struct {
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

// Template names used by the application.
const (
	TplAppointmentConfirmation = "appointment-confirmation"
	TplAppointmentReminder     = "appointment-reminder"
	TplAppointmentCancelled    = "appointment-cancelled"
	TplLabResultReady          = "lab-result-ready"
	TplRadiologyReportReady    = "radiology-report-ready"
	TplPasswordReset           = "password-reset"
	TplWelcome                 = "welcome"
)

// TemplateEngine holds templates by name and renders them.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtIn {
		e.Register(t)
	}
	return e
}

var builtIn = []Template{
	{
		Name:    TplAppointmentConfirmation,
		Channel: ChannelEmail,
		Subject: "Appointment Confirmed for {{patient_name}}",
		Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} is booked for {{date}} at {{time}}.",
	},
	{
		Name:    TplAppointmentReminder,
		Channel: ChannelEmail,
		Subject: "Appointment Reminder for {{patient_name}}",
		Body:    "Dear {{patient_name}}, this is a reminder of your appointment on {{date}} at {{time}} with {{doctor_name}}.",
	},
	{
		Name:    TplAppointmentCancelled,
		Channel: ChannelEmail,
		Subject: "Appointment Cancelled",
		Body:    "Dear {{patient_name}}, your appointment on {{date}} at {{time}} with {{doctor_name}} has been cancelled. Reason: {{reason}}",
	},
	{
		Name:    TplLabResultReady,
		Channel: ChannelEmail,
		Subject: "Your Lab Results Are Ready",
		Body:    "Dear {{patient_name}}, your {{test_name}} results are now available. Please log in to view them.",
	},
	{
		Name:    TplRadiologyReportReady,
		Channel: ChannelEmail,
		Subject: "Your Imaging Report Is Ready",
		Body:    "Dear {{patient_name}}, the report for your {{modality}} {{body_part}} study is now available. Please log in to view it.",
	},
	{
		Name:    TplPasswordReset,
		Channel: ChannelEmail,
		Subject: "Password Reset Request",
		Body:    "You requested a password reset. Use the following link within {{expires_in}}: {{reset_link}}",
	},
	{
		Name:    TplWelcome,
		Channel: ChannelEmail,
		Subject: "Welcome, {{first_name}}",
		Body:    "Hello {{first_name}}, your account has been created. You can now sign in with {{email}}.",
	},
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Name] = &t
}

func (e *TemplateEngine) Get(name string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[name]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Names lists registered template names in sorted order.
func (e *TemplateEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.templates))
	for n := range e.templates {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Render looks up a template by name and fills its placeholders.
func (e *TemplateEngine) Render(name string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Get(name)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", name)
	}
	subject, body = RenderText(t.Subject, t.Body, data)
	return subject, body, nil
}

// RenderText performs {{key}} replacement in a single pass, so placeholders
// inside substituted values are not expanded. Keys absent from data are left
// as-is.
func RenderText(subject, body string, data map[string]string) (string, string) {
	if len(data) == 0 {
		return subject, body
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(subject), r.Replace(body)
}
