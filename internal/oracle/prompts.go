package oracle

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

const relevanceSystemPrompt = `你是基金信息披露文件的检索评估员。
根据问题判断给定文本对回答问题的帮助程度，只输出一个 1 到 5 的整数：
5 = 文本直接、完整地回答了问题
4 = 文本包含回答问题所需的关键信息
3 = 文本与问题相关，但缺少关键信息
2 = 文本与问题关系较弱
1 = 文本与问题无关
不要输出任何解释。`

func relevancePrompt(question, text string) string {
	return fmt.Sprintf("问题：%s\n\n文本：\n%s\n\n分数：", question, text)
}

const answerSystemPrompt = `你是基金信息披露文件问答助手。只能依据提供的检索内容回答，不得编造。
检索内容按文档分组，每组第一行为"Source: <文档ID>"，"[gap]"表示中间有省略。
以 JSON 输出，格式为 {"answer": "答案", "sources": ["引用的文档ID"]}。
答案须包含具体数字、日期和名称；sources 只列出实际引用的文档ID。
若检索内容无法回答问题，answer 写"根据检索内容无法找到相关信息"，sources 为空数组。`

func answerPrompt(question, content string) string {
	return fmt.Sprintf("问题：%s\n\n检索内容：\n%s", question, content)
}

const compensationSystemPrompt = `请直接从下面的资料中摘取能回答问题的原文并简要作答。
以 JSON 输出：{"answer": "答案", "sources": ["文档ID"]}。
资料中没有答案时，answer 写"根据检索内容无法找到相关信息"。`

const fusionSystemPrompt = `两条独立的检索路径分别给出了同一问题的答案。
请合并为一个答案：保留两者一致的信息；存在冲突时以"招募说明书章节"路径为准；去除重复。
以 JSON 输出：{"answer": "合并后的答案", "sources": ["文档ID"]}。`

func fusionPrompt(question string, a, b retrieval.Answer) string {
	return fmt.Sprintf("问题：%s\n\n路径一（混合检索）答案：\n%s\n来源：%s\n\n路径二（招募说明书章节）答案：\n%s\n来源：%s",
		question,
		a.Text, strings.Join(a.Sources, ", "),
		b.Text, strings.Join(b.Sources, ", "))
}

const classifierSystemPrompt = `你是基金招募说明书的章节分类器。
根据问题，从给出的章节列表中选出最可能包含答案的章节（最多 3 个）。
以 JSON 输出：{"sections": ["章节ID"]}。没有合适章节时输出 {"sections": []}。`

func classifierPrompt(question string, sections []retrieval.SectionRef) string {
	var sb strings.Builder
	sb.WriteString("问题：")
	sb.WriteString(question)
	sb.WriteString("\n\n章节列表：\n")
	for _, s := range sections {
		fmt.Fprintf(&sb, "%s: %s\n", s.ID, s.Title)
	}
	return sb.String()
}
