package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// Matches chapter lines of extracted prospectuses: 第七章 基金费用与税收
	chapterPattern = regexp.MustCompile(`^第[一二三四五六七八九十百零〇0-9]+[章部分]\s*\S.*$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// sentenceEnds are the runes a long paragraph may be cut after.
const sentenceEnds = "。！？；!?;\n"

// Parser splits document text into pieces and sections.
type Parser struct {
	options Options
}

// NewParser creates a parser. A ChunkSize below MinChunkSize is raised to it;
// zero means DefaultChunkSize.
func NewParser(opts Options) *Parser {
	switch {
	case opts.ChunkSize == 0:
		opts.ChunkSize = DefaultChunkSize
	case opts.ChunkSize < MinChunkSize:
		opts.ChunkSize = MinChunkSize
	}
	return &Parser{options: opts}
}

// ChunkSize returns the effective chunk size.
func (p *Parser) ChunkSize() int { return p.options.ChunkSize }

// Parse splits content. Pieces never cross a page break and never exceed the
// chunk size; paragraphs are packed greedily, and a paragraph longer than
// the chunk size is cut at sentence ends.
func (p *Parser) Parse(content string) Document {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if m := frontmatterPattern.FindString(content); m != "" {
		content = content[len(m):]
	}
	if strings.TrimSpace(strings.ReplaceAll(content, PageBreak, "")) == "" {
		return Document{}
	}
	return Document{
		Pieces:   p.pieces(content),
		Sections: parseSections(strings.ReplaceAll(content, PageBreak, "\n")),
	}
}

func (p *Parser) pieces(content string) []Piece {
	pages := strings.Split(content, PageBreak)
	paged := len(pages) > 1

	var out []Piece
	for i, page := range pages {
		ref := ""
		if paged {
			ref = fmt.Sprintf("p%d", i+1)
		}
		for _, text := range p.packPage(page) {
			out = append(out, Piece{Seq: len(out), Text: text, PageRef: ref})
		}
	}
	return out
}

// packPage packs the paragraphs of one page into chunk-sized texts.
func (p *Parser) packPage(page string) []string {
	size := p.options.ChunkSize
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, para := range strings.Split(page, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > size {
			flush()
			out = append(out, splitLong(para, size)...)
			continue
		}
		if curLen > 0 && curLen+2+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()
	return out
}

// splitLong cuts text into parts of at most size runes, preferring cuts
// after sentence ends.
func splitLong(text string, size int) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if strings.ContainsRune(sentenceEnds, r) {
			end := i + utf8.RuneLen(r)
			sentences = append(sentences, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	var out []string
	var cur []rune
	for _, s := range sentences {
		rs := []rune(s)
		if len(cur)+len(rs) > size && len(cur) > 0 {
			out = appendTrimmed(out, string(cur))
			cur = cur[:0]
		}
		for len(rs) > size {
			out = appendTrimmed(out, string(rs[:size]))
			rs = rs[size:]
		}
		cur = append(cur, rs...)
	}
	if len(cur) > 0 {
		out = appendTrimmed(out, string(cur))
	}
	return out
}

func appendTrimmed(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}

type heading struct {
	line  int
	level int
	title string
}

// parseSections finds markdown headings and chapter lines. A section runs
// until the next heading of the same or a higher level, so a chapter
// contains its subsections.
func parseSections(content string) []Section {
	lines := strings.Split(content, "\n")
	var heads []heading
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			heads = append(heads, heading{line: i, level: len(m[1]), title: strings.TrimSpace(m[2])})
		} else if chapterPattern.MatchString(trimmed) && utf8.RuneCountInString(trimmed) <= 40 {
			heads = append(heads, heading{line: i, level: 1, title: trimmed})
		}
	}

	// Stack for header hierarchy (levels 1-6)
	stack := make([]string, 6)
	sections := make([]Section, 0, len(heads))
	for i, h := range heads {
		stack[h.level-1] = h.title
		for j := h.level; j < 6; j++ {
			stack[j] = ""
		}
		var path []string
		for j := 0; j < h.level; j++ {
			if stack[j] != "" {
				path = append(path, stack[j])
			}
		}

		end := len(lines)
		for _, next := range heads[i+1:] {
			if next.level <= h.level {
				end = next.line
				break
			}
		}
		sections = append(sections, Section{
			ID:      fmt.Sprintf("s%d", i+1),
			Ordinal: i,
			Title:   strings.Join(path, " > "),
			Level:   h.level,
			Content: strings.TrimSpace(strings.Join(lines[h.line+1:end], "\n")),
		})
	}
	return sections
}

// Kind names, matching the document kinds of the retrieval engine.
const (
	KindAnnouncement   = "announcement"
	KindPeriodicReport = "periodic_report"
	KindProspectus     = "prospectus"
)

var kindMarkers = []struct {
	kind    string
	markers []string
}{
	{KindProspectus, []string{"招募说明书", "prospectus"}},
	{KindPeriodicReport, []string{"年度报告", "季度报告", "中期报告", "年报", "季报", "annual report", "quarterly report", "interim report"}},
	{KindAnnouncement, []string{"公告", "announcement", "notice"}},
}

// InferKind guesses the document kind from its title and file name. It
// returns "" when nothing matches. Ingestion calls it once per document; the
// result is stored with the document.
func InferKind(title, fileName string) string {
	s := strings.ToLower(title + " " + fileName)
	for _, km := range kindMarkers {
		for _, m := range km.markers {
			if strings.Contains(s, m) {
				return km.kind
			}
		}
	}
	return ""
}
