package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Content Generation Prompts
// ============================================================================

// DefaultSystemPrompt is used when a plan has no system prompt of its own.
// The generator must answer with a JSON object holding subject and body.
const DefaultSystemPrompt = `あなたはメールコンテンツ生成AIです。
以下の形式でJSON応答してください:
{"subject": "メール件名", "body": "メール本文"}
bodyはHTMLタグなしのプレーンテキストで記述してください。`

// JSONInstruction is appended to the system prompt when neither prompt
// mentions JSON; the chat API rejects json_object responses otherwise.
const JSONInstruction = "\n\n回答は必ず {\"subject\": \"件名\", \"body\": \"本文\"} のJSON形式で出力してください。"

// SystemPrompt returns the effective system prompt for a generation request.
func SystemPrompt(system, user string) string {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	if !strings.Contains(strings.ToLower(system), "json") && !strings.Contains(strings.ToLower(user), "json") {
		system += JSONInstruction
	}
	return system
}

// ============================================================================
// Batch Combination
// ============================================================================

// CombinedSeparator sits between item sections of a combined email.
const CombinedSeparator = "\n\n---\n\n"

// CombinedSection renders one item of a combined email.
func CombinedSection(itemName, body string) string {
	return "【" + itemName + "】\n" + body
}

// ============================================================================
// Rolling Summaries
// ============================================================================

// SummarySystemPrompt asks the generator for a summary in the usual
// subject/body shape; only the body is kept.
const SummarySystemPrompt = `あなたは要約AIです。JSON形式で {"subject": "要約", "body": "要約テキスト"} を返してください。`

// SummaryPrompt asks for a summary of a delivered email body of roughly
// length characters, prefixed by the plan's own summary instruction.
func SummaryPrompt(instruction string, length int, body string) string {
	return fmt.Sprintf("%s\n\n以下のメール本文を%d文字程度で要約してください:\n\n---\n%s\n---\n\n要約のみを返してください。",
		instruction, length, body)
}

// InjectSummaries puts earlier summaries, oldest first, in front of prompt
// so the next email continues the story.
func InjectSummaries(prompt string, summaries []string) string {
	if len(summaries) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("\n\n【これまでのあらすじ】\n")
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\n上記のあらすじの続きとして、新しい内容を生成してください。\n\n")
	b.WriteString(prompt)
	return b.String()
}

// ============================================================================
// Operator Notifications
// ============================================================================

// AlertSubjectPrefix prefixes every operator alert subject.
const AlertSubjectPrefix = "[ALERT]"

// UnsubscribePath is appended to the site URL to build unsubscribe links.
const UnsubscribePath = "/api/me/unsubscribe?token="

// UnsubscribeFooter closes every plan email that has an unsubscribe link.
const UnsubscribeFooter = "\n\n――――――――――\n配信停止はこちら: "
