package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type templateData struct {
	Name string
	Link string
}

type emailTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var verificationEmail = newEmailTemplate("Confirm your email",
	`Hello {{.Name}},

Please confirm your email address by opening the link below:

{{.Link}}

If you did not create an account, you can ignore this email.
`,
	`<p>Hello {{.Name}},</p>
<p>Please confirm your email address by clicking the link below:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>If you did not create an account, you can ignore this email.</p>
`)

var passwordResetEmail = newEmailTemplate("Password reset",
	`Hello {{.Name}},

You requested a password reset. Open the link below to choose a new password.
The link expires in 15 minutes.

{{.Link}}

If you did not request a reset, you can ignore this email.
`,
	`<p>Hello {{.Name}},</p>
<p>You requested a password reset. Click the link below to choose a new password.
The link expires in 15 minutes.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request a reset, you can ignore this email.</p>
`)

func newEmailTemplate(subject, text, html string) *emailTemplate {
	return &emailTemplate{
		subject: subject,
		text:    texttemplate.Must(texttemplate.New(subject).Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(subject).Parse(html)),
	}
}

func (t *emailTemplate) render(data templateData) (*Message, error) {
	var text, html bytes.Buffer
	if err := t.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}

	return &Message{
		Subject: t.subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
