package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"news_enricher/testdata/utils"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantTitle    string
		wantSummary  string
		wantCategory *string
		wantTags     []string
	}{
		{
			name:         "all sections full width colon",
			reply:        "中文标题：福\n摘要：摘要\n分类：编程\n标签：Rust，内核、安全",
			wantTitle:    "福",
			wantSummary:  "摘要",
			wantCategory: utils.Ptr("编程"),
			wantTags:     []string{"Rust", "内核", "安全"},
		},
		{
			name:        "ascii colon and markdown bold",
			reply:       "**中文标题**: 福\n**摘要**: 摘要\n",
			wantTitle:   "福",
			wantSummary: "摘要",
		},
		{
			name:        "missing title falls back to original",
			reply:       "摘要：摘要",
			wantTitle:   "Foo",
			wantSummary: "摘要",
		},
		{
			name:        "empty reply",
			reply:       "",
			wantTitle:   "Foo",
			wantSummary: NoSummary,
		},
		{
			name:        "multi line summary and reasoning block",
			reply:       "<think>\n中文标题：错误\n</think>\n中文标题：福\n摘要：第一行\n第二行\n标签：a, b, a",
			wantTitle:   "福",
			wantSummary: "第一行\n第二行",
			wantTags:    []string{"a", "b"},
		},
		{
			name:        "bracketed placeholders are unwrapped",
			reply:       "中文标题：[福]\n摘要：[摘要]",
			wantTitle:   "福",
			wantSummary: "摘要",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseResponse(tt.reply, "Foo")

			assert.Equal(t, tt.wantTitle, got.TranslatedTitle)
			assert.Equal(t, tt.wantSummary, got.Summary)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantTags, got.Tags)
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	prompt := renderPrompt("T={title} U={url_info}", "Foo", urlInfo("https://a.example", ""))
	assert.Equal(t, "T=Foo U=【链接】https://a.example", prompt)

	prompt = renderPrompt("T={title} U={url_info}", "Foo", urlInfo("", "ignored"))
	assert.Equal(t, "T=Foo U=", prompt)

	info := urlInfo("https://a.example", "body")
	assert.Equal(t, "【链接】https://a.example\n\n【正文摘录】\nbody", info)
}
