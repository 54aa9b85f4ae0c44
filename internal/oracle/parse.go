package oracle

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

// minAnswerRunes is the shortest answer a parser accepts.
const minAnswerRunes = 5

// answerParser turns a model reply into an answer, or reports false.
type answerParser func(raw string) (retrieval.Answer, bool)

// answerParsers run in order; the first success wins.
var answerParsers = []answerParser{
	TryStrict,
	TryMarkdownUnwrap,
	TryBraceScan,
	TryFieldRegex,
}

// ParseAnswer parses an {"answer": ..., "sources": [...]} reply.
func ParseAnswer(raw string) (retrieval.Answer, bool) {
	for _, p := range answerParsers {
		if a, ok := p(raw); ok {
			return a, true
		}
	}
	return retrieval.Answer{}, false
}

// TryStrict decodes the whole reply as JSON.
func TryStrict(raw string) (retrieval.Answer, bool) {
	var a retrieval.Answer
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &a); err != nil {
		return retrieval.Answer{}, false
	}
	return acceptAnswer(a)
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// TryMarkdownUnwrap decodes the first fenced code block.
func TryMarkdownUnwrap(raw string) (retrieval.Answer, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if m == nil {
		return retrieval.Answer{}, false
	}
	return TryStrict(m[1])
}

// TryBraceScan decodes the span between the first '{' and the last '}',
// repairing unquoted keys first.
func TryBraceScan(raw string) (retrieval.Answer, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return retrieval.Answer{}, false
	}
	span := raw[start : end+1]
	if a, ok := TryStrict(span); ok {
		return a, true
	}
	return TryStrict(repairJSON(span))
}

var (
	answerFieldPattern  = regexp.MustCompile(`(?s)"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	sourcesFieldPattern = regexp.MustCompile(`(?s)"sources"\s*:\s*\[(.*?)\]`)
	quotedPattern       = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// TryFieldRegex extracts the answer and sources fields from malformed JSON,
// such as a reply truncated after the sources list.
func TryFieldRegex(raw string) (retrieval.Answer, bool) {
	m := answerFieldPattern.FindStringSubmatch(raw)
	if m == nil {
		return retrieval.Answer{}, false
	}
	a := retrieval.Answer{Text: unquote(m[1])}
	if s := sourcesFieldPattern.FindStringSubmatch(raw); s != nil {
		for _, q := range quotedPattern.FindAllStringSubmatch(s[1], -1) {
			a.Sources = append(a.Sources, unquote(q[1]))
		}
	}
	return acceptAnswer(a)
}

func unquote(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func acceptAnswer(a retrieval.Answer) (retrieval.Answer, bool) {
	a.Text = strings.TrimSpace(a.Text)
	if utf8.RuneCountInString(a.Text) < minAnswerRunes {
		return retrieval.Answer{}, false
	}
	sources := a.Sources[:0:0]
	for _, s := range a.Sources {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	a.Sources = sources
	return a, true
}

// repairJSON quotes keys whose opening quote is missing, as in
// `{answer": "..."}`.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+8)
	for i := 0; i < len(in); {
		ch := in[i]
		out = append(out, ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}
		for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t' || in[i] == '\r') {
			out = append(out, in[i])
			i++
		}
		if i >= len(in) || !isASCIILetter(in[i]) {
			continue
		}
		keyStart := i
		for i < len(in) && (isASCIILetter(in[i]) || in[i] == '_') {
			i++
		}
		if i+1 < len(in) && in[i] == '"' && in[i+1] == ':' {
			out = append(out, '"')
		}
		out = append(out, in[keyStart:i]...)
	}
	return string(out)
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

var scoreNumberPattern = regexp.MustCompile(`\d+`)

// scoreWords map descriptive replies to scores, checked in order. Negative
// and weak wording comes first so that "不相关" is not read as "相关".
var scoreWords = []struct {
	score int
	words []string
}{
	{1, []string{"无关", "不相关", "没有"}},
	{2, []string{"较弱", "有限"}},
	{3, []string{"一定", "可能"}},
	{5, []string{"完全", "充分", "准确"}},
	{4, []string{"部分", "相关"}},
}

// ParseScore reads a relevance reply. The first whole number decides when it
// lies in 1-5; otherwise descriptive wording is looked up.
func ParseScore(raw string) (int, bool) {
	if m := scoreNumberPattern.FindString(raw); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= retrieval.MaxRelevanceScore {
			return n, true
		}
	}
	for _, sw := range scoreWords {
		for _, w := range sw.words {
			if strings.Contains(raw, w) {
				return sw.score, true
			}
		}
	}
	return 0, false
}

// noSectionReplies mean the classifier found nothing applicable.
var noSectionReplies = []string{"无", "none", "[]"}

// ParseSectionIDs reads a classifier reply: a JSON object
// {"sections": [...]}, a JSON array, or one id or title per line. Unknown
// entries are dropped; titles are mapped to their ids.
func ParseSectionIDs(raw string, refs []retrieval.SectionRef) ([]string, bool) {
	trimmed := strings.TrimSpace(raw)
	bare := strings.TrimRight(trimmed, "。.")
	for _, none := range noSectionReplies {
		if strings.EqualFold(bare, none) {
			return nil, true
		}
	}

	var candidates []string
	var obj struct {
		Sections []string `json:"sections"`
	}
	body := trimmed
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		body = strings.TrimSpace(m[1])
	}
	switch {
	case json.Unmarshal([]byte(body), &obj) == nil && obj.Sections != nil:
		candidates = obj.Sections
	case json.Unmarshal([]byte(body), &candidates) == nil:
	default:
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-*• ")
			line = strings.TrimPrefix(line, "章节：")
			line = strings.TrimSpace(strings.TrimPrefix(line, "章节:"))
			if line != "" {
				candidates = append(candidates, line)
			}
		}
	}

	byID := make(map[string]bool, len(refs))
	byTitle := make(map[string]string, len(refs))
	for _, r := range refs {
		byID[r.ID] = true
		byTitle[r.Title] = r.ID
	}

	var ids []string
	seen := make(map[string]bool)
	recognised := false
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		id := c
		if !byID[id] {
			var ok bool
			if id, ok = byTitle[c]; !ok {
				continue
			}
		}
		recognised = true
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if !recognised && len(candidates) > 0 {
		return nil, false
	}
	return ids, true
}
