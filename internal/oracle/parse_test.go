package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantOK      bool
		wantText    string
		wantSources []string
	}{
		{
			name:        "strict json",
			raw:         `{"answer": "基金经理为张三。", "sources": ["fund-a"]}`,
			wantOK:      true,
			wantText:    "基金经理为张三。",
			wantSources: []string{"fund-a"},
		},
		{
			name:        "markdown fence with prose around",
			raw:         "结果如下：\n```json\n{\"answer\": \"基金经理为张三。\", \"sources\": []}\n```\n以上。",
			wantOK:      true,
			wantText:    "基金经理为张三。",
			wantSources: []string{},
		},
		{
			name:        "braces inside prose",
			raw:         `好的 {"answer": "成立于2020年3月", "sources": ["a", " "]} 谢谢`,
			wantOK:      true,
			wantText:    "成立于2020年3月",
			wantSources: []string{"a"},
		},
		{
			name:        "missing opening quote on key",
			raw:         `{answer": "成立于2020年3月", sources": ["a"]}`,
			wantOK:      true,
			wantText:    "成立于2020年3月",
			wantSources: []string{"a"},
		},
		{
			name:        "truncated reply",
			raw:         `{"answer": "托管人为招商银行", "sources": ["b", "c"], "note": "unterminated`,
			wantOK:      true,
			wantText:    "托管人为招商银行",
			wantSources: []string{"b", "c"},
		},
		{name: "answer too short", raw: `{"answer": "无", "sources": []}`},
		{name: "plain prose", raw: "托管人为招商银行"},
		{name: "empty", raw: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := ParseAnswer(tt.raw)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantText, a.Text)
				assert.Equal(t, tt.wantSources, a.Sources)
			}
		})
	}
}

func TestRepairJSON(t *testing.T) {
	assert.Equal(t, `{"answer": "x", "sources": []}`, repairJSON(`{answer": "x", sources": []}`))
	assert.Equal(t, `{"answer": "x"}`, repairJSON(`{"answer": "x"}`))
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{raw: "评分: 4", want: 4, wantOK: true},
		{raw: "5分", want: 5, wantOK: true},
		{raw: "10", wantOK: false},
		{raw: "0 then 3", wantOK: false},
		{raw: "0分，相关性较弱", want: 2, wantOK: true},
		{raw: "完全相关", want: 5, wantOK: true},
		{raw: "部分相关", want: 4, wantOK: true},
		{raw: "不相关", want: 1, wantOK: true},
		{raw: "可能有关", want: 3, wantOK: true},
		{raw: "六", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseScore(tt.raw)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
