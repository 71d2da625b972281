package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timmy/planmail/internal/domain"
)

// Prompt tokens substituted by ResolveVariables.
const (
	TokenExternalData = "{external_data}"
	TokenItemName     = "{~}"
	TokenFullName     = "{name}"
	TokenNameLast     = "{name-l}"
	TokenNameFirst    = "{name-f}"
)

// Answer is one recipient answer bound to a question's var_name.
// Value is a string, or a decoded JSON value for multi-value questions.
type Answer struct {
	VarName string
	Value   interface{}
}

// Vars carries the substitution values for one prompt. A nil field leaves
// its token untouched.
type Vars struct {
	ExternalData *string
	ItemName     *string
	Answers      []Answer
	FullName     *string
	NameLast     *string
	NameFirst    *string
}

// ResolveVariables substitutes tokens in a fixed order: external data, item
// name, question answers, full name, then last and first name. Values are
// inserted literally, so a token inside an earlier value is expanded by a
// later step.
func ResolveVariables(text string, v Vars) string {
	result := text

	if v.ExternalData != nil {
		result = strings.ReplaceAll(result, TokenExternalData, *v.ExternalData)
	}
	if v.ItemName != nil {
		result = strings.ReplaceAll(result, TokenItemName, *v.ItemName)
	}
	for _, a := range v.Answers {
		result = strings.ReplaceAll(result, "{"+a.VarName+"}", formatAnswer(a.Value))
	}
	if v.FullName != nil {
		result = strings.ReplaceAll(result, TokenFullName, *v.FullName)
	}
	if v.NameLast != nil {
		result = strings.ReplaceAll(result, TokenNameLast, *v.NameLast)
	}
	if v.NameFirst != nil {
		result = strings.ReplaceAll(result, TokenNameFirst, *v.NameFirst)
	}
	return result
}

// formatAnswer renders lists comma-joined and objects as indented JSON.
func formatAnswer(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatAnswer(item)
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimRight(buf.String(), "\n")
	default:
		return fmt.Sprint(v)
	}
}

// DecodeAnswers builds answers in question order from raw stored values.
// Multi-value questions are decoded as JSON, keeping the raw string if that fails.
func DecodeAnswers(questions []domain.PlanQuestion, raw map[string]string) []Answer {
	answers := make([]Answer, 0, len(questions))
	for _, q := range questions {
		value := raw[q.VarName]
		if q.IsMultiValue() && value != "" {
			var decoded interface{}
			if err := json.Unmarshal([]byte(value), &decoded); err == nil {
				answers = append(answers, Answer{VarName: q.VarName, Value: decoded})
				continue
			}
		}
		answers = append(answers, Answer{VarName: q.VarName, Value: value})
	}
	return answers
}

// HasRecipientVariables reports whether prompt needs per-recipient content:
// it mentions a built-in name token or a question's {var_name}.
func HasRecipientVariables(prompt string, questions []domain.PlanQuestion) bool {
	for _, tok := range []string{TokenFullName, TokenNameLast, TokenNameFirst} {
		if strings.Contains(prompt, tok) {
			return true
		}
	}
	for _, q := range questions {
		if q.VarName != "" && strings.Contains(prompt, "{"+q.VarName+"}") {
			return true
		}
	}
	return false
}

// RecipientVars fills the recipient-specific part of Vars.
func RecipientVars(rec domain.Recipient, answers []Answer) Vars {
	full := rec.FullName()
	last := rec.NameLast
	first := rec.NameFirst
	return Vars{
		Answers:   answers,
		FullName:  &full,
		NameLast:  &last,
		NameFirst: &first,
	}
}
