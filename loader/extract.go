package loader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"wellbot/loader/internal"
	"wellbot/rag"
	"wellbot/types"

	"github.com/gabriel-vasile/mimetype"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Options struct {
	CropTop        float64
	CropBottom     float64
	DoclingURL     string
	DoclingTimeout time.Duration
}

// Extractor turns uploaded bytes into plain text per declared format.
type Extractor struct {
	opts    Options
	docling *internal.DoclingClient
	md      goldmark.Markdown
	logger  *slog.Logger
}

func NewExtractor(opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{opts: opts, md: goldmark.New(), logger: logger}
	if opts.DoclingURL != "" {
		e.docling = internal.NewDoclingClient(opts.DoclingURL, opts.DoclingTimeout)
	}
	return e
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rag.ErrUnsupportedOrCorruptDocument, fmt.Sprintf(format, args...))
}

func (e *Extractor) Extract(ctx context.Context, fileType types.FileType, data []byte) (types.Extracted, error) {
	switch fileType {
	case types.FilePDF:
		return e.extractPDF(ctx, data)
	case types.FileText:
		text, err := decodeText(data)
		if err != nil {
			return types.Extracted{}, err
		}
		return types.Extracted{Text: text}, nil
	case types.FileMarkdown:
		text, err := decodeText(data)
		if err != nil {
			return types.Extracted{}, err
		}
		return types.Extracted{Text: e.markdownText([]byte(text))}, nil
	default:
		return types.Extracted{}, corrupt("unsupported format %q", fileType)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (types.Extracted, error) {
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return types.Extracted{}, corrupt("declared pdf but content is %s", mt.String())
	}
	if _, err := internal.ValidatePDF(data); err != nil {
		return types.Extracted{}, corrupt("%v", err)
	}

	if e.docling != nil {
		cropped, err := internal.CropMargins(data, e.opts.CropTop, e.opts.CropBottom)
		if err != nil {
			return types.Extracted{}, corrupt("%v", err)
		}
		md, err := e.docling.ConvertPDFToMD(ctx, "document.pdf", cropped)
		if err == nil {
			return types.Extracted{Text: e.markdownText([]byte(md))}, nil
		}
		e.logger.Warn("[EXTRACT] docling conversion failed, using embedded text", "error", err)
	}

	pages, err := internal.PageTexts(data)
	if err != nil {
		return types.Extracted{}, corrupt("%v", err)
	}
	var b strings.Builder
	starts := make([]int, len(pages))
	offset := 0
	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n\n")
			offset += 2
		}
		starts[i] = offset
		b.WriteString(page)
		offset += utf8.RuneCountInString(page)
	}
	if internal.Unreadable(b.String()) {
		return types.Extracted{}, corrupt("pdf text layer cannot be decoded")
	}
	return types.Extracted{Text: b.String(), PageStarts: starts}, nil
}

// decodeText accepts UTF-8 (with or without BOM) and BOM-marked UTF-16.
func decodeText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	mt := mimetype.Detect(data)
	if !isText(mt) {
		return "", corrupt("declared text but content is %s", mt.String())
	}
	hasUTF16BOM := bytes.HasPrefix(data, []byte{0xFE, 0xFF}) || bytes.HasPrefix(data, []byte{0xFF, 0xFE})
	if !hasUTF16BOM && !utf8.Valid(data) {
		return "", corrupt("text is not valid UTF-8")
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", corrupt("decode text: %v", err)
	}
	return strings.ReplaceAll(string(out), "\r\n", "\n"), nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// markdownText renders markdown to plain text: markup is dropped, block
// elements are separated by blank lines and code blocks are kept verbatim.
func (e *Extractor) markdownText(src []byte) string {
	doc := e.md.Parser().Parse(gmtext.NewReader(src))
	var b strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(src))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return collapseBlankLines(b.String())
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
