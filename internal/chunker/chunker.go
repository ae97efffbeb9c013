// Package chunker turns decoded documents into bounded-size pieces for embedding.
package chunker

import (
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const DefaultMaxBytes = 4000

// Split accumulates whole lines into chunks of at most maxBytes. A line longer
// than maxBytes becomes a chunk of its own; lines are never cut. Whitespace
// only input yields no chunks.
func Split(content string, maxBytes int) []string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var (
		chunks []string
		sb     strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(sb.String()) != "" {
			chunks = append(chunks, strings.TrimRight(sb.String(), "\n"))
		}
		sb.Reset()
	}
	for _, line := range lines {
		need := len(line)
		if sb.Len() > 0 {
			need++
		}
		if sb.Len() > 0 && sb.Len()+need > maxBytes {
			flush()
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	flush()
	return chunks
}

func IsMarkdown(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// ExtractText returns the embeddable text of a document. Markdown is reduced
// to its textual content one block per line; everything else is returned as is.
func ExtractText(fileName, content string) string {
	if !IsMarkdown(fileName) {
		return content
	}
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if txt := blockText(node, source); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return strings.Join(blocks, "\n")
}

func blockText(n ast.Node, source []byte) string {
	switch b := n.(type) {
	case *ast.FencedCodeBlock:
		return linesText(b.Lines(), source)
	case *ast.CodeBlock:
		return linesText(b.Lines(), source)
	case *ast.HTMLBlock:
		return ""
	}
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n && sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeSpan:
			for c := t.FirstChild(); c != nil; c = c.NextSibling() {
				if seg, ok := c.(*ast.Text); ok {
					sb.Write(seg.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func linesText(lines *text.Segments, source []byte) string {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}
