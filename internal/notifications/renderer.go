package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// templateSet lists the channel/message combinations that have a template.
var templateSet = map[MessageType][]domain.ChannelType{
	MessageTypeOffer: {
		domain.ChannelTypeEmail,
		domain.ChannelTypeSMS,
		domain.ChannelTypeTelegram,
	},
	MessageTypePoolAlert: {
		domain.ChannelTypeMattermost,
	},
}

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"lower":          strings.ToLower,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"reasonText":     reasonText,
		"escapeHTML":     html.EscapeString,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   funcMap,
	}

	for msg, channels := range templateSet {
		for _, channel := range channels {
			name := templateName(channel, msg)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

// RenderOffer renders an assignment offer for the specified channel type.
// Returns subject and body.
func (r *Renderer) RenderOffer(channelType domain.ChannelType, payload OfferPayload) (subject, body string, err error) {
	subject = fmt.Sprintf("[New listing] %s", payload.PropertyTitle)
	body, err = r.execute(templateName(channelType, MessageTypeOffer), payload)
	return subject, body, err
}

// RenderPoolAlert renders an operations alert for the specified channel type.
func (r *Renderer) RenderPoolAlert(channelType domain.ChannelType, payload PoolAlertPayload) (subject, body string, err error) {
	subject = fmt.Sprintf("[Agent pool] %s", payload.PropertyTitle)
	body, err = r.execute(templateName(channelType, MessageTypePoolAlert), payload)
	return subject, body, err
}

func (r *Renderer) execute(name string, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func templateName(channel domain.ChannelType, msg MessageType) string {
	return fmt.Sprintf("%s_%s", channel, msg)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

func reasonText(reason string) string {
	switch reason {
	case string(domain.UnassignedNoCandidates):
		return "no matching agents"
	case string(domain.UnassignedRoundsExhausted):
		return "all rounds exhausted"
	default:
		return strings.ReplaceAll(reason, "_", " ")
	}
}
