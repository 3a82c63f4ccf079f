// internal/service/template_service.go
package service

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

// TemplateRenderer substitutes variables into a template. Missing keys render as "".
type TemplateRenderer interface {
	Render(template string, vars map[string]string) (string, error)
}

// FastTemplateRenderer understands {{ name }} tags; whitespace inside the braces is ignored.
type FastTemplateRenderer struct{}

func (FastTemplateRenderer) Render(template string, vars map[string]string) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	// NewTemplate rejects an unterminated tag; the package-level Execute helpers print it verbatim.
	t, err := fasttemplate.NewTemplate(template, "{{", "}}")
	if err != nil {
		return "", err
	}
	return t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		return io.WriteString(w, vars[strings.TrimSpace(tag)])
	})
}

// RecipientVariables is the fixed variable set every broadcast can reference.
// contact may be nil when it was deleted after expansion.
func RecipientVariables(contact *model.Contact, email string) map[string]string {
	vars := map[string]string{
		"first_name": "",
		"last_name":  "",
		"full_name":  "",
		"email":      email,
		"company":    "",
	}
	if contact != nil {
		vars["first_name"] = contact.FirstName
		vars["last_name"] = contact.LastName
		vars["full_name"] = contact.FullName()
		vars["company"] = contact.Company
		if email == "" {
			vars["email"] = contact.Email
		}
	}
	return vars
}
