package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// SupportedExtensions lists the file types LoadFile understands.
var SupportedExtensions = []string{".txt", ".md", ".markdown"}

// File is a loaded file ready for ingestion.
type File struct {
	Title    string
	Content  string
	Source   string
	Metadata map[string]any
}

// LoadFile reads a text or markdown file. Markdown is flattened to plain
// text and its first heading becomes the title; otherwise the file name is
// used.
func LoadFile(path string) (*File, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsSupported(path) {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	f := &File{
		Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content: string(data),
		Source:  "file://" + path,
		Metadata: map[string]any{
			"path":      path,
			"extension": ext,
		},
	}

	if ext == ".md" || ext == ".markdown" {
		plain, heading := markdownToText(data)
		f.Content = plain
		if heading != "" {
			f.Title = heading
		}
	}
	return f, nil
}

// IsSupported reports whether path has a supported extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// markdownToText renders markdown source to plain text, one block per line,
// and returns the text of the first heading.
func markdownToText(src []byte) (string, string) {
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	var heading string
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && b.Len() > 0 {
				if !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if heading == "" {
				heading = inlineText(node, src)
			}
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String()), heading
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
			continue
		}
		b.WriteString(inlineText(c, src))
	}
	return strings.TrimSpace(b.String())
}
