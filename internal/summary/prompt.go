package summary

import (
	"strings"
)

// GuardrailPrompt pins the output contract regardless of what the configured
// template says. It is always part of the user prompt.
const GuardrailPrompt = "出力する JSON は次の仕様に厳密に従ってください:\n" +
	"- 出力は {\"summary_long\":\"...\",\"diff_points\":[]} の形式の JSON オブジェクト 1 つだけとし、余計な文字列や説明を付けない。\n" +
	"- summary_long (500文字以内) は日本語で、入力本文に記載された事実のみを要約する。\n" +
	"- diff_points は本文で確認できる固有名詞・数値などの事実を箇条書きで列挙する。存在しない場合は空配列 []。\n" +
	"- 本文と無関係な出来事・他記事の情報・推測は一切含めない。本文で確認できない場合は summary_long に" +
	"「本文から要約を生成できませんでした」と記載し、他フィールドも最小限にする。\n" +
	"- JSON 以外のテキストやコードブロックは出力しない。"

const emptyBodyNotice = "（本文が空でした。入力データを確認してください。）"

// PromptConfig holds the operator-managed prompt templates loaded from the
// secret store. The user template may reference {article_body} and
// {guidance}.
type PromptConfig struct {
	System       string `json:"system_prompt"`
	UserTemplate string `json:"user_template"`
}

// Prompt is the rendered prompt pair sent to an LLM provider.
type Prompt struct {
	System string
	User   string
}

// prepareArticleExcerpt trims the body to the character limit and wraps it in
// article tags so templates can place it unambiguously.
func prepareArticleExcerpt(body string, charLimit int) string {
	excerpt := strings.TrimSpace(body)
	if charLimit > 0 {
		excerpt = truncateRunes(excerpt, charLimit)
	}
	if excerpt == "" {
		excerpt = emptyBodyNotice
	}
	return "<article>\n" + excerpt + "\n</article>"
}

// BuildPrompt renders the configured template with the article body. When the
// template has no {guidance} placeholder the guardrail is appended so the
// output contract always reaches the model.
func BuildPrompt(cfg PromptConfig, body string, charLimit int) Prompt {
	articleBlock := prepareArticleExcerpt(body, charLimit)

	user := strings.ReplaceAll(cfg.UserTemplate, "{article_body}", articleBlock)
	if strings.Contains(cfg.UserTemplate, "{guidance}") {
		user = strings.TrimSpace(strings.ReplaceAll(user, "{guidance}", GuardrailPrompt))
	} else {
		user = strings.TrimRight(user, " \t\n") + "\n\n" + GuardrailPrompt
	}
	return Prompt{System: cfg.System, User: user}
}
