package mail

import (
	"bytes"
	"fmt"
	"text/template"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "verification"}}Hi {{.Username}},

Welcome to MacroScope. Confirm your email address by opening the link below:

{{.Link}}

The link expires in {{.ExpiresIn}}. If you did not create an account you can ignore this message.
{{end}}
{{define "password_reset"}}Hi {{.Username}},

We received a request to reset your MacroScope password. Open the link below to choose a new one:

{{.Link}}

The link expires in {{.ExpiresIn}}. If you did not request a reset, no action is needed.
{{end}}
{{define "invitation"}}Hi,

{{.InviterName}} invited you to join the research group "{{.GroupName}}" on MacroScope.
{{if .Message}}
Message from {{.InviterName}}:
{{.Message}}
{{end}}
Accept the invitation here:

{{.Link}}
{{end}}
`))

// TemplateData carries the values interpolated into transactional emails.
type TemplateData struct {
	Username    string
	Link        string
	ExpiresIn   string
	InviterName string
	GroupName   string
	Message     string
}

// Render builds the body of the named template ("verification", "password_reset", "invitation").
func Render(name string, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", name, err)
	}
	return buf.String(), nil
}
