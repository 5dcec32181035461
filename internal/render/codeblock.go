package render

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

const plaintext = "plaintext"

// codeBlockRenderer replaces goldmark's fenced code output with a
// highlighted block carrying a copy button.
type codeBlockRenderer struct {
	formatter *chromahtml.Formatter
}

func newCodeBlockRenderer() *codeBlockRenderer {
	return &codeBlockRenderer{
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.PreventSurroundingPre(true),
		),
	}
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		code.Write(line.Value(source))
	}

	lexer, lang := lookupLexer(string(n.Language(source)))

	_, _ = w.WriteString(`<div class="code-block-wrapper"><button class="copy-code-btn" data-code-base64="`)
	_, _ = w.WriteString(base64.StdEncoding.EncodeToString(code.Bytes()))
	_, _ = w.WriteString(`" title="Copy code">Copy</button><pre><code class="hljs language-`)
	_, _ = w.WriteString(lang)
	_, _ = w.WriteString(`">`)

	if err := r.highlight(w, lexer, code.String()); err != nil {
		return ast.WalkStop, err
	}

	_, _ = w.WriteString("</code></pre></div>\n")
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) highlight(w util.BufWriter, lexer chroma.Lexer, code string) error {
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		log.Debug().Err(err).Str("lexer", lexer.Config().Name).Msg("tokenise failed, using plain text")
		it, err = lexers.Fallback.Tokenise(nil, code)
		if err != nil {
			return err
		}
	}
	return r.formatter.Format(w, styles.Fallback, it)
}

// lookupLexer resolves the fence info string to a lexer and the language
// name used in the code class. Unknown languages are plain text.
func lookupLexer(info string) (chroma.Lexer, string) {
	name := strings.ToLower(strings.TrimSpace(info))
	if i := strings.IndexAny(name, " \t{"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return lexers.Fallback, plaintext
	}

	lexer := lexers.Get(name)
	if lexer == nil {
		return lexers.Fallback, plaintext
	}
	return chroma.Coalesce(lexer), classSafe(name)
}

// classSafe keeps the characters a class token may carry ("c++" -> "c").
func classSafe(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, name)
	if safe == "" {
		return plaintext
	}
	return safe
}
