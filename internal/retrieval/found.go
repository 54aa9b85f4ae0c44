package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Answers shorter than minFoundRunes are treated as "not found". Answers
// without sources need more than minUnsourcedRunes to count as found.
const (
	minFoundRunes     = 10
	minUnsourcedRunes = 20
)

var negativePhrases = []string{
	"根据检索内容无法找到相关信息",
	"无法找到",
	"找不到",
	"没有找到",
	"未找到相关信息",
	"很抱歉，无法",
	"暂时无法确定",
	"no relevant information",
	"could not find",
	"cannot find",
	"unable to find",
	"not found in the provided",
}

// IsFoundAnswer decides whether an oracle answer actually answers the
// question: it must not contain a negative phrase, must be at least
// minFoundRunes long, and must cite a source or be substantial.
func IsFoundAnswer(answer string, sources []string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	lower := strings.ToLower(answer)
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	n := utf8.RuneCountInString(answer)
	if n < minFoundRunes {
		return false
	}
	return len(sources) > 0 || n > minUnsourcedRunes
}
