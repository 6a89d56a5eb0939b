package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Decomposer turns a user prompt into atomic sub-queries with one model call.
type Decomposer struct {
	LLM llm.Client
}

// Decompose asks the model for a list of search queries. A reply that is not a
// list of strings, or holds no usable query, yields exactly [prompt]. A failed
// model call is returned as an error.
func (d *Decomposer) Decompose(ctx context.Context, prompt string) ([]string, error) {
	resp, err := d.LLM.Complete(ctx, llm.DecomposeMessages(prompt))
	if err != nil {
		return nil, goerr.Wrap(err, "decompose prompt")
	}

	queries, ok := ParseQueryList(resp.Content)
	if !ok || len(queries) == 0 {
		logging.From(ctx).Debug("decomposition unusable, searching the prompt itself", "reply", resp.Content)
		return []string{prompt}, nil
	}
	return queries, nil
}

// Decompose runs the engine's decomposer under the per-call timeout.
func (e *Engine) Decompose(ctx context.Context, prompt string) ([]string, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.Decomposer.Decompose(ctx, prompt)
}

// ParseQueryList extracts a list of strings from a model reply. It accepts a
// JSON array or a Python list literal, optionally inside a markdown fence or
// surrounded by prose. Blank entries are dropped. ok is false when no list of
// strings can be decoded.
func ParseQueryList(content string) (queries []string, ok bool) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < 0 || end <= start {
		return nil, false
	}
	literal := content[start : end+1]

	items, ok := decodeJSONStrings(literal)
	if !ok {
		items, ok = decodePythonStrings(literal)
	}
	if !ok {
		return nil, false
	}

	queries = make([]string, 0, len(items))
	for _, q := range items {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	return queries, true
}

func decodeJSONStrings(literal string) ([]string, bool) {
	var raw []any
	if err := json.Unmarshal([]byte(literal), &raw); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// decodePythonStrings parses a Python list literal whose elements are all
// single- or double-quoted strings.
func decodePythonStrings(literal string) ([]string, bool) {
	p := pyParser{src: []rune(literal)}
	if !p.consume('[') {
		return nil, false
	}

	var out []string
	for {
		p.skipSpace()
		if p.consume(']') {
			break
		}
		s, ok := p.str()
		if !ok {
			return nil, false
		}
		out = append(out, s)

		p.skipSpace()
		if p.consume(',') {
			continue
		}
		if p.consume(']') {
			break
		}
		return nil, false
	}

	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, false
	}
	return out, true
}

type pyParser struct {
	src []rune
	pos int
}

func (p *pyParser) skipSpace() {
	for p.pos < len(p.src) && strings.ContainsRune(" \t\r\n", p.src[p.pos]) {
		p.pos++
	}
}

func (p *pyParser) consume(r rune) bool {
	if p.pos < len(p.src) && p.src[p.pos] == r {
		p.pos++
		return true
	}
	return false
}

func (p *pyParser) str() (string, bool) {
	if p.pos >= len(p.src) {
		return "", false
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	p.pos++

	var b strings.Builder
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		p.pos++
		switch {
		case r == quote:
			return b.String(), true
		case r == '\n':
			return "", false
		case r == '\\' && p.pos < len(p.src):
			esc := p.src[p.pos]
			p.pos++
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case '\\', '\'', '"':
				b.WriteRune(esc)
			default:
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
		}
	}
	return "", false
}
