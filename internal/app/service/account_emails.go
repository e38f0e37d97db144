package service

import (
	"bytes"
	"html/template"
	"strings"
)

const (
	verificationSubject  = "Account verification"
	passwordResetSubject = "Password reset request"
)

var verificationTemplate = template.Must(template.New("verification").Parse(
	`<p>Hello {{.Name}},</p>` +
		`<p>Please confirm your email address to activate your account.</p>` +
		`<p><a href="{{.Link}}">Verify my email</a></p>` +
		`<p>If you did not create an account you can ignore this message.</p>`))

var passwordResetTemplate = template.Must(template.New("password_reset").Parse(
	`<p>Hello {{.Name}},</p>` +
		`<p>We received a request to reset your password.</p>` +
		`<p><a href="{{.Link}}">Choose a new password</a></p>` +
		`<p>If you did not ask for this you can ignore this message.</p>`))

type emailData struct {
	Name string
	Link string
}

// codeLink builds <baseURL>/<route>/<code>.
func codeLink(baseURL, route, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + route + "/" + code
}

func renderEmail(tmpl *template.Template, name, link string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, emailData{Name: name, Link: link}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
