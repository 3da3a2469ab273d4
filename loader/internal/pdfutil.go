package internal

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// ValidatePDF parses and validates a PDF held in memory and returns its page count.
func ValidatePDF(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("validate pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return ctx.PageCount, nil
}

// PageTexts returns the text of every page, in page order. Font encodings
// and ToUnicode maps are resolved by the reader. Pages without content yield
// an empty string.
func PageTexts(data []byte) (pages []string, err error) {
	// the reader panics on some malformed objects
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read pdf text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	pages = make([]string, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() || p.V.Key("Contents").IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			f := p.Font(name)
			fonts[name] = &f
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}

// Unreadable reports whether most visible characters of text are replacement
// or control characters, which is what glyph codes without a usable
// encoding decode to.
func Unreadable(text string) bool {
	var total, bad int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			bad++
		}
	}
	return total > 0 && bad*2 >= total
}

// CropMargins cuts the top and bottom margins (in points, 1 pt = 1/72 inch)
// off every page so running headers and footers are not extracted.
func CropMargins(data []byte, top, bottom float64) ([]byte, error) {
	if top <= 0 && bottom <= 0 {
		return data, nil
	}
	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crop box: %w", err)
	}
	var out bytes.Buffer
	if err := api.Crop(bytes.NewReader(data), &out, nil, box, pdfConfig()); err != nil {
		return nil, fmt.Errorf("failed to crop PDF: %w", err)
	}
	return out.Bytes(), nil
}
