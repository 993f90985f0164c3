// Package markdown splits model output into structured content parts so
// clients can render code blocks separately from prose.
package markdown

import (
	"strings"

	"github.com/gostudio/orchestra/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Split parses the given markdown and returns it as a sequence of parts,
// where every top-level fenced code block becomes a code part carrying its
// info-string language, and everything between code blocks becomes a text
// part. Plain input with no fences yields a single text part. Empty input
// yields no parts.
func Split(input string) []models.Part {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	src := []byte(input)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	type span struct {
		start, stop int
		body        string
		language    string
	}
	var codeSpans []span

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		fence, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			continue
		}

		lines := fence.Lines()
		if lines.Len() == 0 {
			continue
		}
		bodyStart := lines.At(0).Start
		bodyStop := lines.At(lines.Len() - 1).Stop

		lang := ""
		if info := fence.Info; info != nil {
			lang = strings.TrimSpace(string(info.Segment.Value(src)))
		}

		// The code block's segments cover its body only. Walk the raw
		// source back and forth to swallow the fence lines too, so the
		// surrounding text parts don't keep stray backticks.
		codeSpans = append(codeSpans, span{
			start:    fenceLineStart(src, bodyStart),
			stop:     fenceLineStop(src, bodyStop),
			body:     strings.TrimRight(string(src[bodyStart:bodyStop]), "\n"),
			language: lang,
		})
	}

	if len(codeSpans) == 0 {
		return []models.Part{{Type: models.PartTypeText, Text: input}}
	}

	var parts []models.Part
	cursor := 0
	for _, cs := range codeSpans {
		if txt := strings.TrimSpace(string(src[cursor:cs.start])); txt != "" {
			parts = append(parts, models.Part{Type: models.PartTypeText, Text: txt})
		}
		parts = append(parts, models.Part{
			Type:     models.PartTypeCode,
			Text:     cs.body,
			Language: cs.language,
		})
		cursor = cs.stop
	}
	if txt := strings.TrimSpace(string(src[cursor:])); txt != "" {
		parts = append(parts, models.Part{Type: models.PartTypeText, Text: txt})
	}

	return parts
}

// fenceLineStart steps backwards from the body start over the opening fence
// line, returning the offset just past the newline that precedes it.
func fenceLineStart(src []byte, bodyStart int) int {
	i := bodyStart - 1
	if i < 0 {
		return 0
	}
	// Skip the newline terminating the fence line itself.
	if src[i] == '\n' {
		i--
	}
	for i >= 0 && src[i] != '\n' {
		i--
	}
	return i + 1
}

// fenceLineStop steps forward from the body end over the closing fence line,
// returning the offset just past its terminating newline. A fence left
// unclosed at end of input stops at the body end.
func fenceLineStop(src []byte, bodyStop int) int {
	i := bodyStop
	for i < len(src) && src[i] != '\n' {
		i++
	}
	if i < len(src) {
		i++
	}
	return i
}
