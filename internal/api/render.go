package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"chatrelay/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// View names a page template.
type View string

const (
	ViewChat  View = "home.html"
	ViewImage View = "image.html"
)

// ChatEntry is one display log line and whether the user wrote it.
type ChatEntry struct {
	Text string
	User bool
}

// ChatPage is the data of the chat view.
type ChatPage struct {
	SessionID string
	Entries   []ChatEntry
}

// NewChatPage lists the display log in order with each entry's author.
func NewChatPage(sessionID string, entries []models.Message) ChatPage {
	page := ChatPage{SessionID: sessionID, Entries: make([]ChatEntry, 0, len(entries))}
	for _, e := range entries {
		page.Entries = append(page.Entries, ChatEntry{Text: e.Content, User: e.Role == models.RoleUser})
	}
	return page
}

// ImagePage is the data of the image view. LatestURL is set right after a
// successful generation; Error after a failed one.
type ImagePage struct {
	SessionID string
	ImageLog  []string
	LatestURL string
	Prompt    string
	Error     string
}

// Renderer turns session state into HTML. It holds no state of its own.
type Renderer struct {
	tmpl *template.Template
	md   goldmark.Markdown
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				renderer.WithNodeRenderers(util.Prioritized(rawHTMLAsText{}, 100)),
			),
		),
	}
	tmpl, err := template.New("pages").Funcs(template.FuncMap{
		"markdown": r.markdown,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// Template exposes the parsed set for gin's HTML renderer.
func (r *Renderer) Template() *template.Template {
	return r.tmpl
}

// Render writes view with data to w.
func (r *Renderer) Render(w io.Writer, view View, data any) error {
	return r.tmpl.ExecuteTemplate(w, string(view), data)
}

func (r *Renderer) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed")
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

// rawHTMLAsText overrides goldmark's raw HTML rendering, which omits the markup,
// so tags written in a reply stay visible as escaped text.
type rawHTMLAsText struct{}

func (r rawHTMLAsText) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindRawHTML, r.renderRawHTML)
	reg.Register(ast.KindHTMLBlock, r.renderHTMLBlock)
}

func (r rawHTMLAsText) renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	n := node.(*ast.RawHTML)
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
	}
	return ast.WalkSkipChildren, nil
}

func (r rawHTMLAsText) renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.HTMLBlock)
	if entering {
		_, _ = w.WriteString("<pre>")
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			_, _ = w.Write(util.EscapeHTML(line.Value(source)))
		}
		return ast.WalkContinue, nil
	}
	if n.HasClosure() {
		_, _ = w.Write(util.EscapeHTML(n.ClosureLine.Value(source)))
	}
	_, _ = w.WriteString("</pre>\n")
	return ast.WalkContinue, nil
}
