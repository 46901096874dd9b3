// Package research turns job-status payloads into conversation outcomes:
// a classifier decides what a payload means, a watcher polls a job to a
// terminal state, and an orchestrator moves sessions between chat and
// research.
package research

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/user/deepscout/pkg/llm"
)

// Kind is what a job-status payload means for the conversation.
type Kind string

const (
	// KindPending: the job is still running, keep polling.
	KindPending Kind = "pending"
	// KindFailed: the job reported failure.
	KindFailed Kind = "failed"
	// KindQuestion: the job is asking the user a clarifying question.
	KindQuestion Kind = "question"
	// KindReport: the job produced a final report.
	KindReport Kind = "report"
	// KindEmpty: the job completed but no text could be extracted. The
	// server may still be materializing output, so callers retry briefly
	// before treating it as a real empty result.
	KindEmpty Kind = "empty"
)

// Result is a classified payload. Text carries the question or report body,
// or the failure message for KindFailed.
type Result struct {
	Kind Kind
	Text string
}

// Character thresholds for the question-vs-report heuristic. These match the
// remote service's observed reply shapes; changing them changes which replies
// reach the user as questions.
const (
	questionMaxChars = 500
	reportMinChars   = 2000
)

// questionWordPattern matches an interrogative word opening a sentence.
var questionWordPattern = regexp.MustCompile(`(?i)(^|[.!?]\s+|\n)(what|which|who|whose|where|when|why|how|should|would|could|can|do|does|did|is|are|will)\b`)

// needsInputStatuses are the status values where the remote explicitly
// signals it is waiting on the user.
var needsInputStatuses = map[string]bool{
	"needs_input":     true,
	"requires_action": true,
	"incomplete":      true,
}

// Classify maps a raw job-status payload to what it means for the
// conversation. It is a pure function of the payload: the same bytes always
// classify the same way.
//
// The status field alone cannot distinguish a clarifying question from a
// finished report, so extracted text is run through a length-and-punctuation
// heuristic: short text with question markers is a question, long or
// completed text is a report.
func Classify(payload *llm.JobPayload) Result {
	if payload == nil {
		return Result{Kind: KindPending}
	}

	if payload.Status == "failed" || payload.Error != nil {
		msg := ""
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		if msg == "" {
			msg = "research job failed"
		}
		return Result{Kind: KindFailed, Text: msg}
	}

	text := extractText(payload)

	if needsInputStatuses[payload.Status] {
		return Result{Kind: KindQuestion, Text: text}
	}

	if text == "" {
		if payload.Status == "completed" {
			return Result{Kind: KindEmpty}
		}
		return Result{Kind: KindPending}
	}

	if looksLikeQuestion(text) {
		return Result{Kind: KindQuestion, Text: text}
	}

	if payload.Status == "completed" || utf8.RuneCountInString(text) >= reportMinChars {
		return Result{Kind: KindReport, Text: text}
	}

	return Result{Kind: KindPending}
}

// looksLikeQuestion reports whether text reads as a clarifying question:
// under 500 characters opening a sentence with an interrogative word, or
// under 2000 characters containing a question mark.
func looksLikeQuestion(text string) bool {
	n := utf8.RuneCountInString(text)
	if n < questionMaxChars && questionWordPattern.MatchString(text) {
		return true
	}
	if n < reportMinChars && strings.Contains(text, "?") {
		return true
	}
	return false
}

// extractText pulls the best-effort answer text out of a loosely-structured
// payload, trying the output list first, then the flat fields, then a
// pretty-printed dump of the whole payload as a last resort.
func extractText(p *llm.JobPayload) string {
	// The first "message" item is authoritative when it carries text.
	msgIdx := -1
	for i := range p.Output {
		if p.Output[i].Type == "message" {
			msgIdx = i
			break
		}
	}
	if msgIdx >= 0 {
		if text := strings.TrimSpace(messageText(&p.Output[msgIdx])); text != "" {
			return text
		}
	}

	// Remaining items' text fields, blank-line separated.
	var chunks []string
	for i := range p.Output {
		if i == msgIdx {
			continue
		}
		if text := strings.TrimSpace(itemText(&p.Output[i])); text != "" {
			chunks = append(chunks, text)
		}
	}
	if len(chunks) > 0 {
		return strings.Join(chunks, "\n\n")
	}

	if text := strings.TrimSpace(p.OutputText); text != "" {
		return text
	}
	if text := strings.TrimSpace(p.Text); text != "" {
		return text
	}

	// Dump fallback. Gated on a completed job with output items: an
	// in-flight payload dumped here would classify as a report.
	if p.Status == "completed" && len(p.Output) > 0 && len(p.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, p.Raw, "", "  "); err == nil {
			return buf.String()
		}
		return string(p.Raw)
	}

	return ""
}

// messageText concatenates a message item's content: either the bare string
// form or its parts' text/output_text fields.
func messageText(item *llm.OutputItem) string {
	if item.Content != "" {
		return item.Content
	}
	var b strings.Builder
	for _, part := range item.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		} else if part.OutputText != "" {
			b.WriteString(part.OutputText)
		}
	}
	return b.String()
}

// itemText extracts text from a non-message output item.
func itemText(item *llm.OutputItem) string {
	if item.Text != "" {
		return item.Text
	}
	if item.OutputText != "" {
		return item.OutputText
	}
	return item.Content
}
