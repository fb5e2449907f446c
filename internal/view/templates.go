package view

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Viewer      authz.Principal
	Data        any
}

// NewTemplateData collects the per-request layout values: the CSRF token,
// the pending flash and the signed-in principal.
func NewTemplateData(r *http.Request, csrf *shared.CSRFManager, title string, data any) TemplateData {
	sess := shared.SessionFromContext(r.Context())
	var token string
	var flash *shared.FlashMessage
	if sess != nil {
		if csrf != nil {
			token, _ = csrf.EnsureToken(r.Context(), sess)
		}
		flash = sess.PopFlash()
	}
	return TemplateData{
		Title:       title,
		CSRFToken:   token,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Viewer:      shared.PrincipalFromContext(r.Context()),
		Data:        data,
	}
}

var (
	spanish     = language.Spanish
	titleCaser  = cases.Title(spanish)
	numberPrint = message.NewPrinter(spanish)
	roleLabels  = map[string]string{
		shared.RoleTecnico: "Técnico",
	}
)

// RoleLabel renders a role name for display.
func RoleLabel(role string) string {
	if label, ok := roleLabels[role]; ok {
		return label
	}
	return titleCaser.String(role)
}

// StatusLabel renders a snake_case status for display.
func StatusLabel(status string) string {
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

var actionLabels = map[shared.ApprovalAction]string{
	shared.ApprovalSubmit:  "Solicitado",
	shared.ApprovalApprove: "Aprobado",
	shared.ApprovalReject:  "Rechazado",
}

// ActionLabel renders an approval history action.
func ActionLabel(action shared.ApprovalAction) string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	return string(action)
}

// FormatNumber groups digits the Spanish way, e.g. 12.345.
func FormatNumber(n int64) string {
	return numberPrint.Sprintf("%d", n)
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006")
		},
		"isoDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"formatNumber": FormatNumber,
		"formatMoney": func(cents int64) string {
			return numberPrint.Sprintf("$%d,%02d", cents/100, cents%100)
		},
		"roleLabel":   RoleLabel,
		"statusLabel": StatusLabel,
		"actionLabel": ActionLabel,
		"add":         func(a, b int) int { return a + b },
		"sub":         func(a, b int) int { return a - b },
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/*/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template into a buffer and writes it with status,
// so a failing template never produces a half-written page.
func (e *Engine) Render(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// ErrorPages renders the shared error page.
type ErrorPages struct {
	Engine *Engine
	CSRF   *shared.CSRFManager
	Logger *slog.Logger
}

// RenderError writes status with a user-facing message.
func (p ErrorPages) RenderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	data := NewTemplateData(r, p.CSRF, http.StatusText(status), map[string]any{"Status": status, "Message": message})
	if err := p.Engine.Render(w, status, "pages/error.html", data); err != nil && p.Logger != nil {
		p.Logger.Error("render error page", slog.Any("error", err))
	}
}
