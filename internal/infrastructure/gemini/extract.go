package gemini

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"TubeDigest/internal/domain"
)

// The model is not guaranteed to emit clean output: it may wrap the document
// in a fenced code block, prefix it with prose, or omit the doctype. The
// extraction below tolerates all of that and fails only when no markup is
// present at all.
var (
	fenceOpenExpr  = regexp.MustCompile("(?i)^```[a-z]*[ \t]*\n?")
	fenceCloseExpr = regexp.MustCompile("\n?```\\s*$")
	doctypeExpr    = regexp.MustCompile(`(?is)(<!DOCTYPE html>.*?</html>)`)
	htmlExpr       = regexp.MustCompile(`(?is)(<html.*?>.*?</html>)`)
)

// ExtractHTML extracts a complete HTML fragment from free-form model output.
// In order: strip an optional fenced code-block wrapper, then take the
// doctype-to-</html> substring, then any <html> element, then a bare root
// element, then the text itself when it still contains markup.
func ExtractHTML(raw string) (string, error) {
	cleaned := fenceOpenExpr.ReplaceAllString(strings.TrimSpace(raw), "")
	cleaned = fenceCloseExpr.ReplaceAllString(strings.TrimSpace(cleaned), "")
	cleaned = strings.TrimSpace(cleaned)

	if match := doctypeExpr.FindString(cleaned); match != "" {
		return match, nil
	}
	if match := htmlExpr.FindString(cleaned); match != "" {
		return match, nil
	}
	if root := rootElement(cleaned); root != "" {
		return root, nil
	}
	if strings.Contains(cleaned, "<") && strings.Contains(cleaned, ">") {
		return cleaned, nil
	}
	return "", domain.ErrNoMarkup
}

// rootElement returns the outer HTML of a fragment whose entire content is a
// single root element, or "" when the text is not shaped that way.
func rootElement(text string) string {
	if !strings.HasPrefix(text, "<") || !strings.HasSuffix(text, ">") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return ""
	}

	children := doc.Find("body").Children()
	if children.Length() != 1 {
		return ""
	}

	outer, err := goquery.OuterHtml(children.First())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(outer)
}
