package tools

import (
	"sort"
	"strings"

	"github.com/BaSui01/agentcircle/types"
)

// DefaultOperatorName is the operator addressed by the contact tag.
const DefaultOperatorName = "Alfonso"

// Tag is one bracketed token found in agent output.
type Tag struct {
	Start   int    // offset of '['
	End     int    // offset just past ']'
	Inner   string // text between the brackets, whitespace-normalized
	Closing bool
}

// Tokenize returns every bracketed token in text, in order. Brackets are
// not nested: a '[' inside an open bracket restarts the token.
func Tokenize(text string) []Tag {
	var tags []Tag
	i := 0
	for i < len(text) {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			break
		}
		open += i
		j := open + 1
		for j < len(text) && text[j] != ']' && text[j] != '[' {
			j++
		}
		if j >= len(text) {
			break
		}
		if text[j] == '[' {
			i = j
			continue
		}
		inner := strings.Join(strings.Fields(text[open+1:j]), " ")
		tag := Tag{Start: open, End: j + 1, Inner: inner}
		if strings.HasPrefix(inner, "/") {
			tag.Closing = true
			tag.Inner = strings.TrimSpace(inner[1:])
		}
		tags = append(tags, tag)
		i = j + 1
	}
	return tags
}

// ToolInvocation is a tool request parsed from agent output.
type ToolInvocation struct {
	Tool     types.ToolName `json:"tool"`
	Variant  string         `json:"variant"`
	Argument string         `json:"argument,omitempty"` // recipient or title
	Body     string         `json:"body"`
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Closed   bool           `json:"closed"`
	Agent    string         `json:"agent,omitempty"`
}

// variant is one accepted spelling of an opening tag.
type variant struct {
	name string
	// exact tags take no argument; otherwise prefix is followed by one
	exact  string
	prefix string
	closes []string
}

func (v variant) match(inner string) (arg string, ok bool) {
	if v.exact != "" {
		return "", strings.EqualFold(inner, v.exact)
	}
	if len(inner) <= len(v.prefix) || !strings.EqualFold(inner[:len(v.prefix)], v.prefix) {
		return "", false
	}
	arg = strings.TrimSpace(inner[len(v.prefix):])
	return arg, arg != ""
}

func (v variant) closedBy(inner string) bool {
	for _, c := range v.closes {
		if strings.EqualFold(inner, c) {
			return true
		}
	}
	return false
}

type category struct {
	tool       types.ToolName
	repeatable bool
	variants   []variant
}

// Grammar is the closed tag grammar, parameterized by the operator name.
type Grammar struct {
	categories []category
}

// NewGrammar builds the grammar. An empty operator falls back to DefaultOperatorName.
func NewGrammar(operator string) *Grammar {
	operator = strings.Join(strings.Fields(operator), " ")
	if operator == "" {
		operator = DefaultOperatorName
	}
	candleCloses := []string{"CANDLE TEST", "TEST CANDELA"}
	salva := []string{"SALVA"}
	return &Grammar{categories: []category{
		{tool: types.ToolCandleTest, variants: []variant{
			{name: "CANDLE TEST", exact: "CANDLE TEST", closes: candleCloses},
			{name: "TEST CANDELA", exact: "TEST CANDELA", closes: candleCloses},
		}},
		{tool: types.ToolSiblingMessage, repeatable: true, variants: []variant{
			{name: "MESSAGGIO A", prefix: "MESSAGGIO A ", closes: []string{"MESSAGGIO"}},
			{name: "MESSAGGIO PER", prefix: "MESSAGGIO PER ", closes: []string{"MESSAGGIO"}},
		}},
		{tool: types.ToolLibrarySave, variants: []variant{
			{name: "SALVA IN BIBLIOTECA", prefix: "SALVA IN BIBLIOTECA:", closes: salva},
			{name: "SALVA NELLA BIBLIOTECA", prefix: "SALVA NELLA BIBLIOTECA:", closes: salva},
			{name: "BIBLIOTECA", prefix: "BIBLIOTECA:", closes: []string{"BIBLIOTECA"}},
		}},
		{tool: types.ToolShareMemory, variants: []variant{
			{name: "CONDIVIDI RICORDO", exact: "CONDIVIDI RICORDO", closes: []string{"CONDIVIDI"}},
			{name: "CONDIVIDI MEMORIA", exact: "CONDIVIDI MEMORIA", closes: []string{"CONDIVIDI"}},
		}},
		{tool: types.ToolContactOperator, variants: []variant{
			{name: "CONTATTA URGENTE", exact: "CONTATTA " + operator + " URGENTE", closes: []string{"CONTATTA"}},
			{name: "CONTATTA", exact: "CONTATTA " + operator, closes: []string{"CONTATTA"}},
		}},
	}}
}

// Parse finds tool invocations in text.
//
// Each category tries its variants in priority order and keeps the first one
// that matches anywhere; the sibling message category keeps every match.
// Invocations whose spans overlap an earlier-starting one are dropped.
func (g *Grammar) Parse(text string) []ToolInvocation {
	tags := Tokenize(text)
	if len(tags) == 0 {
		return nil
	}

	var found []ToolInvocation
	for _, cat := range g.categories {
		if cat.repeatable {
			for i, tag := range tags {
				if tag.Closing {
					continue
				}
				for _, v := range cat.variants {
					if arg, ok := v.match(tag.Inner); ok {
						found = append(found, span(text, tags, i, cat.tool, v, arg))
						break
					}
				}
			}
			continue
		}
	variants:
		for _, v := range cat.variants {
			for i, tag := range tags {
				if tag.Closing {
					continue
				}
				if arg, ok := v.match(tag.Inner); ok {
					found = append(found, span(text, tags, i, cat.tool, v, arg))
					break variants
				}
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	out := found[:0]
	end := 0
	for _, inv := range found {
		if inv.Start < end {
			continue
		}
		out = append(out, inv)
		end = inv.End
	}
	return out
}

// span extends the opening tag at tags[open] to its closing tag, or to the
// end of text when unclosed.
func span(text string, tags []Tag, open int, tool types.ToolName, v variant, arg string) ToolInvocation {
	inv := ToolInvocation{
		Tool:     tool,
		Variant:  v.name,
		Argument: arg,
		Start:    tags[open].Start,
		End:      len(text),
	}
	bodyStart := tags[open].End
	bodyEnd := len(text)
	for _, tag := range tags[open+1:] {
		if tag.Closing && v.closedBy(tag.Inner) {
			bodyEnd = tag.Start
			inv.End = tag.End
			inv.Closed = true
			break
		}
	}
	inv.Body = strings.TrimSpace(text[bodyStart:bodyEnd])
	return inv
}

// Parse parses text with the default operator name.
func Parse(text string) []ToolInvocation {
	return NewGrammar(DefaultOperatorName).Parse(text)
}
