package template

import (
	"embed"
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	WelcomeEmail      = "WelcomeEmail"
	OrderConfirmation = "OrderConfirmation"
	OrderCancelled    = "OrderCancelled"
	PasswordReset     = "PasswordReset"
	OrderAdminSMS     = "OrderAdminSMS"
	OrderCancelledSMS = "OrderCancelledSMS"
)

const fallback = `<html><body><h1>Notification</h1><p>{{message}}</p></body></html>`

//go:embed html/*.html
var files embed.FS

var sources = map[string]string{
	WelcomeEmail:      "html/welcome_email.html",
	OrderConfirmation: "html/order_confirmation.html",
	OrderCancelled:    "html/order_cancelled.html",
	PasswordReset:     "html/password_reset.html",
}

var plain = map[string]string{
	OrderAdminSMS:     "New order #{{orderId}}, total {{totalAmount}}. {{storeName}}",
	OrderCancelledSMS: "Your order #{{orderId}} has been cancelled. Reason: {{cancellationReason}}. Any charges will be refunded. {{storeName}}",
}

var leftover = regexp.MustCompile(`\{\{[A-Za-z0-9_]+\}\}`)

// Render substitutes {{key}} placeholders of the named template. Placeholders
// without a value render empty; unknown templates fall back to a generic body.
// Values are HTML-escaped in every template except the SMS ones.
func Render(name string, data map[string]string) (string, error) {
	body, markup, err := source(name)
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		if markup {
			value = html.EscapeString(value)
		}
		pairs = append(pairs, "{{"+key+"}}", value)
	}

	rendered := strings.NewReplacer(pairs...).Replace(body)
	return leftover.ReplaceAllString(rendered, ""), nil
}

// source reports whether the template is markup alongside its text.
func source(name string) (string, bool, error) {
	if text, ok := plain[name]; ok {
		return text, false, nil
	}

	path, ok := sources[name]
	if !ok {
		return fallback, true, nil
	}

	data, err := files.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read template %s: %w", name, err)
	}

	return string(data), true, nil
}

var tags = regexp.MustCompile(`<[^>]*>`)

// PlainText strips markup, decodes entities and collapses whitespace, capping
// the result at limit runes.
func PlainText(body string, limit int) string {
	text := strings.Join(strings.Fields(html.UnescapeString(tags.ReplaceAllString(body, " "))), " ")

	runes := []rune(text)
	if limit > 3 && len(runes) > limit {
		return string(runes[:limit-3]) + "..."
	}

	return text
}
