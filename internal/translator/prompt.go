package translator

import (
	"regexp"
	"strings"

	"news_enricher/internal/domain"
)

const DefaultSystemPrompt = "你是一个专业的技术新闻翻译和摘要助手，擅长将英文技术新闻翻译成准确、流畅的中文。"

const DefaultUserPromptTemplate = `请为以下英文标题生成中文翻译和摘要：

【原标题】{title}
{url_info}

请按以下格式回复：
中文标题：[这里是中文翻译的标题]
摘要：[这里是简洁的中文摘要，不超过100字]
分类：[一个简短的中文分类，例如 编程、人工智能、安全、创业]
标签：[3个以内的关键词，用逗号分隔]

要求：
1. 中文标题要准确且符合中文表达习惯
2. 摘要要简洁明了，突出重点
3. 如果是技术类文章，请保留重要的技术术语
`

const NoSummary = "暂无摘要"

const (
	labelTitle    = "中文标题"
	labelSummary  = "摘要"
	labelCategory = "分类"
	labelTags     = "标签"
)

var (
	labels       = []string{labelTitle, labelSummary, labelCategory, labelTags}
	thinkBlock   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	tagSeparator = regexp.MustCompile(`[,，、;；]`)
)

func renderPrompt(template, title, urlInfo string) string {
	prompt := strings.Replace(template, "{title}", title, 1)
	return strings.Replace(prompt, "{url_info}", urlInfo, 1)
}

func urlInfo(sourceURL, content string) string {
	if sourceURL == "" {
		return ""
	}
	info := "【链接】" + sourceURL
	if content != "" {
		info += "\n\n【正文摘录】\n" + content
	}
	return info
}

// parseResponse reads the labeled sections of a model reply. A section runs until the next
// label, so multi-line summaries are kept. Missing title and summary fall back to the original
// title and NoSummary.
func parseResponse(reply, originalTitle string) domain.EnrichmentResult {
	sections := make(map[string]string, len(labels))
	current := ""

	reply = thinkBlock.ReplaceAllString(reply, "")
	for _, line := range strings.Split(reply, "\n") {
		if label, value, ok := splitLabel(line); ok {
			current = label
			sections[current] = value
			continue
		}
		if current != "" {
			sections[current] += "\n" + line
		}
	}

	result := domain.EnrichmentResult{
		TranslatedTitle: clean(sections[labelTitle]),
		Summary:         clean(sections[labelSummary]),
	}
	if result.TranslatedTitle == "" {
		result.TranslatedTitle = originalTitle
	}
	if result.Summary == "" {
		result.Summary = NoSummary
	}
	if category := clean(sections[labelCategory]); category != "" {
		result.Category = &category
	}
	if raw := clean(sections[labelTags]); raw != "" {
		result.Tags = domain.NormalizeTags(tagSeparator.Split(raw, -1))
	}

	return result
}

// splitLabel recognizes "标签：value" and "**标签**: value".
func splitLabel(line string) (string, string, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "*#- ")
	for _, label := range labels {
		rest, ok := strings.CutPrefix(trimmed, label)
		if !ok {
			continue
		}
		rest = strings.TrimLeft(rest, "* ")
		for _, sep := range []string{"：", ":"} {
			if value, ok := strings.CutPrefix(rest, sep); ok {
				return label, value, true
			}
		}
	}
	return "", "", false
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.TrimSpace(s)
}
