package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	goldhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

const (
	fence = "```"

	// Cursor marks the insertion point of a still-streaming code block.
	Cursor = `<span class="cursor">▊</span>`

	codeBlockEnd = "</code></pre>"
)

var (
	checkboxType = regexp.MustCompile(`^checkbox$`)
	emptyAttr    = regexp.MustCompile(`^$`)
)

// Renderer converts assistant markdown to sanitised HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			goldhtml.WithHardWraps(),
			goldhtml.WithUnsafe(),
			renderer.WithNodeRenderers(util.Prioritized(newCodeBlockRenderer(), 100)),
		),
	)
	return &Renderer{md: md, policy: newPolicy()}
}

// newPolicy allows user-generated content plus the markup of highlighted
// code blocks and GFM task lists.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowDataAttributes()
	p.AllowElements("button")
	p.AllowAttrs("title").OnElements("button")
	p.AllowAttrs("type").Matching(checkboxType).OnElements("input")
	p.AllowAttrs("checked", "disabled").Matching(emptyAttr).OnElements("input")
	return p
}

// Render converts content to HTML. While streaming, an unterminated code
// fence is closed and a cursor is placed at the end of the open block.
// Completed content is rendered as-is.
func (r *Renderer) Render(content string, streaming bool) string {
	if content == "" {
		return ""
	}

	openFence := streaming && strings.Count(content, fence)%2 == 1
	if openFence {
		content += "\n" + fence
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed, rendering plain text")
		return "<p>" + html.EscapeString(content) + "</p>"
	}

	out := r.policy.Sanitize(buf.String())
	if openFence {
		out = insertCursor(out)
	}
	return out
}

func insertCursor(s string) string {
	i := strings.LastIndex(s, codeBlockEnd)
	if i < 0 {
		return s
	}
	return s[:i] + Cursor + s[i:]
}

var (
	defaultOnce     sync.Once
	defaultRenderer *Renderer
)

// Render uses a package-level renderer built on first use.
func Render(content string, streaming bool) string {
	defaultOnce.Do(func() {
		defaultRenderer = New()
	})
	return defaultRenderer.Render(content, streaming)
}

// HasCodeBlocks reports whether text contains a code fence.
func HasCodeBlocks(text string) bool {
	return strings.Contains(text, fence)
}

// CountCodeBlocks returns the number of complete fenced blocks.
func CountCodeBlocks(text string) int {
	return strings.Count(text, fence) / 2
}

var fenceLanguage = regexp.MustCompile("```(\\w+)")

// ExtractLanguage returns the language of the first fence that names one.
func ExtractLanguage(text string) (string, bool) {
	m := fenceLanguage.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
