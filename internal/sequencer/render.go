package sequencer

import (
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Render fills {name} and {phone} placeholders from the recipient snapshot.
func Render(template string, r model.Recipient) string {
	return RenderTemplate(template, map[string]string{
		"name":  fallback(r.Name, "there"),
		"phone": r.Phone,
	})
}

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
