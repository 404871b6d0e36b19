// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

// ============================================================================
// THRESHOLDS
// ============================================================================

const (
	// LowWordThreshold: inputs with fewer words are low complexity.
	LowWordThreshold = 10
	// HighWordThreshold: inputs with more words are high complexity.
	HighWordThreshold = 400
	// CodeBlockLineThreshold: a fenced block with more lines is high complexity.
	CodeBlockLineThreshold = 30
	// MaxScoringLength bounds the bytes scored; the rest is ignored.
	MaxScoringLength = 100000
	// SystemScoringLength bounds the system share of ScoringText so a long
	// system prompt cannot push the user messages out of scoring.
	SystemScoringLength = MaxScoringLength / 4
)

// ============================================================================
// MATCHERS
// ============================================================================

// taskMatcher scores one task type. Every regexp match adds one point.
type taskMatcher struct {
	task     TaskType
	patterns []*regexp.Regexp
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// taskMatchers is ordered by tie-break precedence, highest first:
// coding > extraction > summarization > classification > reasoning >
// generation > conversation. On equal scores the earlier entry wins.
var taskMatchers = []taskMatcher{
	{TaskCoding, compile(
		"(?m)^\\s*```",
		`\bcode\b`, `\bcoding\b`, `\bfunctions?\b`, `\bdebug`, `\bbugs?\b`, `\brefactor`,
		`\bcompil(e|er|ation)\b`, `\bimplement`, `\bprogram(ming)?\b`, `\bscripts?\b`,
		`\bunit tests?\b`, `\bstack ?trace\b`, `\bregex\b`, `\bsql\b`,
		`\b(python|golang|go code|javascript|typescript|java|rust|ruby|kotlin|swift|bash)\b`,
	)},
	{TaskExtraction, compile(
		`\bextract`, `\bparse\b`, `\bpull out\b`, `\bfind all\b`, `\blist all\b`,
		`\bentit(y|ies)\b`, `\bkey information\b`, `\bemail addresses\b`,
		`\bphone numbers\b`, `\bfields? from\b`,
	)},
	{TaskSummarization, compile(
		`\bsummar(y|ies|ize|ise|izing|ising|ization)\b`, `\btl;?dr\b`, `\bcondense\b`,
		`\bkey points\b`, `\bmain points\b`, `\bgist\b`, `\brecap\b`, `\bshorten\b`,
	)},
	{TaskClassification, compile(
		`\bclassif(y|ication)\b`, `\bcategori[sz]e\b`, `\bcategor(y|ies)\b`,
		`\bsentiment\b`, `\bspam\b`, `\blabel\b`, `\byes or no\b`, `\btrue or false\b`,
		`\bpositive or negative\b`, `\bwhich (category|type|class)\b`,
	)},
	{TaskReasoning, compile(
		`\bwhy\b`, `\bexplain`, `\breason(ing)?\b`, `\banaly[sz]`, `\bcompare\b`,
		`\bevaluate\b`, `\bprove\b`, `\bsolve\b`, `\blogic(al)?\b`, `\bmath`,
		`\bpros and cons\b`, `\btrade-?offs?\b`, `\bwhat would happen\b`, `\bderive\b`,
	)},
	{TaskGeneration, compile(
		`\bwrite\b`, `\bcreate\b`, `\bgenerate\b`, `\bcompose\b`, `\bdraft\b`,
		`\bblog\b`, `\bstory\b`, `\bpoem\b`, `\barticle\b`, `\bessay\b`,
		`\bslogan\b`, `\bbrainstorm\b`, `\btagline\b`, `\blyrics\b`,
	)},
	{TaskConversation, compile(
		`(?m)^(hi|hello|hey)\b`, `\bhow are you\b`, `\bthank(s| you)\b`,
		`\bgood (morning|afternoon|evening)\b`, `\bwhat do you think\b`, `\bchat\b`,
	)},
}

var (
	complexityPatterns = compile(
		`\barchitect`, `\bcomprehensive\b`, `\bcomplex\b`, `\bin[- ]depth\b`,
		`\bmulti[- ]step\b`, `\bstep[- ]by[- ]step\b`, `\bthorough(ly)?\b`,
		`\bdistributed\b`, `\bend[- ]to[- ]end\b`, `\btrade-?offs?\b`,
		`\bscalab(le|ility)\b`, `\bdetailed\b`,
	)

	binaryPatterns = compile(
		`\byes or no\b`, `\btrue or false\b`, `\byes/no\b`, `\btrue/false\b`,
		`\bagree or disagree\b`,
	)

	toolPatterns = compile(
		`\bsearch\b`, `\blook ?up\b`, `\bfetch\b`, `\bbrowse\b`, `\bdownload\b`,
		`\bexecute\b`, `\brun (the |this |a )?(command|script|code|query)\b`,
		`\bcalculate\b`, `\bcompute\b`, `\bcurrent (weather|price|time|date)\b`,
		`\bsend (an? )?(email|message)\b`, `\bcall (the |an? )?api\b`,
	)

	jsonPatterns = compile(
		`\bjson\b`, `\bstructured (output|data|format|response)\b`,
		`\bkey-value pairs\b`, `\{\s*"[^"\n]+"\s*:`, `\[\s*\{\s*"`,
	)
)

// ============================================================================
// CLASSIFICATION FUNCTIONS
// ============================================================================

// wordCount returns the number of words in a string.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// normalize folds case and compatibility forms so matching is
// case-insensitive for any script. A Caser holds state, so one is made per call.
func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// ScoringText returns the text the classifier scores: system messages
// first, then user messages in order. Assistant and tool messages are
// ignored. System text is cut to SystemScoringLength from the front; user
// text keeps its tail when it overflows, since later messages are more
// specific. The result never exceeds MaxScoringLength.
func ScoringText(messages []llm.ChatMessage) string {
	var system, user []string
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleUser:
			user = append(user, m.Content)
		}
	}

	sys := strings.Join(system, "\n")
	if len(sys) > SystemScoringLength {
		sys = strings.ToValidUTF8(sys[:SystemScoringLength], "")
	}
	usr := strings.Join(user, "\n")
	budget := MaxScoringLength - len(sys)
	if len(system) > 0 && len(user) > 0 {
		budget-- // separator
	}
	if len(usr) > budget {
		usr = strings.ToValidUTF8(usr[len(usr)-budget:], "")
	}

	switch {
	case len(system) == 0:
		return usr
	case len(user) == 0:
		return sys
	}
	return sys + "\n" + usr
}

// Classify classifies a single prompt. It never fails: empty input is
// conversation with low complexity.
func Classify(text string) ClassificationResult {
	t := normalize(clip(text))
	return ClassificationResult{
		TaskType:            classifyTaskType(t),
		EstimatedComplexity: classifyComplexity(t),
		RequiresTools:       matchesAny(t, toolPatterns),
		RequiresJSONMode:    matchesAny(t, jsonPatterns),
	}
}

// ClassifyMessages classifies a conversation using ScoringText.
func ClassifyMessages(messages []llm.ChatMessage) ClassificationResult {
	return Classify(ScoringText(messages))
}

// TaskScores returns the raw score per task type. Exposed for diagnostics.
func TaskScores(text string) map[TaskType]int {
	t := normalize(clip(text))
	scores := make(map[TaskType]int, len(taskMatchers))
	for _, m := range taskMatchers {
		scores[m.task] = score(t, m.patterns)
	}
	return scores
}

func clip(text string) string {
	if len(text) <= MaxScoringLength {
		return text
	}
	return strings.ToValidUTF8(text[:MaxScoringLength], "")
}

func classifyTaskType(t string) TaskType {
	best, bestScore := TaskConversation, 0
	for _, m := range taskMatchers {
		// Strictly greater keeps the earlier, higher-precedence type on ties.
		if s := score(t, m.patterns); s > bestScore {
			best, bestScore = m.task, s
		}
	}
	return best
}

// classifyComplexity checks high signals before low ones, so a short
// prompt that names an architecture question is still high.
func classifyComplexity(t string) Complexity {
	wc := wordCount(t)

	if matchesAny(t, complexityPatterns) ||
		wc > HighWordThreshold ||
		longestCodeBlock(t) > CodeBlockLineThreshold {
		return ComplexityHigh
	}

	if wc < LowWordThreshold || matchesAny(t, binaryPatterns) {
		return ComplexityLow
	}

	return ComplexityMedium
}

func score(t string, patterns []*regexp.Regexp) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllStringIndex(t, -1))
	}
	return n
}

func matchesAny(t string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(t) {
			return true
		}
	}
	return false
}

// longestCodeBlock returns the line count of the longest ``` fenced block.
// An unclosed fence runs to the end of the text.
func longestCodeBlock(t string) int {
	longest, current := 0, 0
	inFence := false
	for _, line := range strings.Split(t, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				longest = max(longest, current)
			}
			inFence = !inFence
			current = 0
			continue
		}
		if inFence {
			current++
		}
	}
	if inFence {
		longest = max(longest, current)
	}
	return longest
}
