// Package expand widens a query's core keywords into semantic and
// multilingual variants using the language model service.
//
// Expansion is uniform: every core keyword, proper nouns included, is
// expanded into the same number of variants in every configured language.
// Skipping "obvious" terms silently starves cross-language matching, so no
// keyword is ever exempted. Property recognition is a separate concern and
// never happens here.
//
// Expansion is idempotent on failure: any transport or parse problem
// returns the core keywords unchanged plus a recoverable *FailedError; it
// never propagates a hard failure to the caller.
package expand

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fernwick/taskrank/internal/llm"
	"github.com/fernwick/taskrank/internal/vocab"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout bounds one expansion call.
	defaultTimeout = 10 * time.Second

	// shortfallRatio is the fraction of the expected variant count below
	// which the result is flagged as a quality signal.
	shortfallRatio = 2.0 / 3.0
)

// Options configures one expansion call.
type Options struct {
	// Languages are the target languages (e.g. "en", "zh"). Empty means
	// expansion in the query's own language only.
	Languages []string
	// MaxPerLanguage is the variant count per keyword per language.
	MaxPerLanguage int
	// Vocabulary filters overly generic expansion candidates.
	Vocabulary *vocab.Vocabulary
	// Timeout bounds the call; zero means defaultTimeout.
	Timeout time.Duration
}

func (o Options) normalized() Options {
	if len(o.Languages) == 0 {
		o.Languages = []string{"en"}
	}
	if o.MaxPerLanguage <= 0 {
		o.MaxPerLanguage = 3
	}
	if o.Vocabulary == nil {
		o.Vocabulary = vocab.Default()
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// Result holds the expansion output and metadata.
type Result struct {
	Core      []string // the input keywords, as given
	Variants  []string // expansion variants only, core excluded
	Expanded  []string // core plus variants, the set downstream consumers use
	Expected  int      // len(core) * maxPerLanguage * len(languages)
	Shortfall bool     // variant count fell well below Expected
	Cached    bool
	Retried   bool
	Usage     llm.Usage
	Latency   time.Duration
}

// FailedError signals that expansion could not run and the caller should
// proceed with core keywords. It is always recoverable.
type FailedError struct {
	Reason string // short machine-readable reason, e.g. "no_provider", "bad_json"
	Err    error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("expansion failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("expansion failed (%s)", e.Reason)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Expand widens core keywords via the provider. On any failure the returned
// Result still carries Expanded == core and the error is a *FailedError.
func Expand(ctx context.Context, provider llm.Provider, core []string, opts Options) (*Result, error) {
	opts = opts.normalized()
	result := &Result{
		Core:     append([]string(nil), core...),
		Expanded: append([]string(nil), core...),
		Expected: len(core) * opts.MaxPerLanguage * len(opts.Languages),
	}
	if len(core) == 0 {
		return result, nil
	}
	if provider == nil {
		return result, &FailedError{Reason: "no_provider"}
	}

	key := cacheKey(core, opts)
	if cached, ok := globalCache.get(key); ok {
		result.Variants = cached
		result.Expanded = merge(core, cached)
		result.Cached = true
		return result, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	comp, err := provider.Complete(callCtx, objectPrompt(core, opts), llm.CompletionOpts{
		System:      expandSystemPrompt,
		MaxTokens:   120 * len(core) * len(opts.Languages),
		Temperature: 0.3,
		// No Format:"json": some models consume a forced JSON mime type in
		// their reasoning phase and return placeholder text. The prompt
		// demands JSON-only output and parseResponse handles fenced or
		// prose-wrapped replies.
	})
	result.Latency = time.Since(start)
	result.Usage = comp.Usage
	if err != nil {
		return result, &FailedError{Reason: "unavailable", Err: err}
	}

	variants, perr := parseResponse(comp.Text, core)
	if perr != nil {
		// One retry with the simpler array shape before giving up.
		comp2, err2 := provider.Complete(callCtx, arrayPrompt(core, opts), llm.CompletionOpts{
			System:      expandSystemPrompt,
			MaxTokens:   120 * len(core) * len(opts.Languages),
			Temperature: 0.3,
		})
		result.Usage = result.Usage.Add(comp2.Usage)
		result.Retried = true
		if err2 != nil {
			return result, &FailedError{Reason: "unavailable", Err: err2}
		}
		variants, perr = parseResponse(comp2.Text, core)
		if perr != nil {
			return result, &FailedError{Reason: "bad_json", Err: perr}
		}
	}

	variants = filterVariants(variants, core, opts.Vocabulary)
	result.Variants = variants
	result.Expanded = merge(core, variants)

	if float64(len(variants)) < shortfallRatio*float64(result.Expected) {
		result.Shortfall = true
		log.Warn().
			Int("expected", result.Expected).
			Int("got", len(variants)).
			Strs("core", core).
			Msg("keyword expansion shortfall")
	}

	globalCache.put(key, variants)
	return result, nil
}

const expandSystemPrompt = `You are a search keyword expansion assistant for a task search engine over personal notes.

For EVERY input keyword, produce semantic equivalents and translations. Rules:
- Expand every keyword uniformly, including names and proper nouns. Never skip a keyword.
- Produce exactly the requested number of variants per keyword per language.
- Variants must be specific. Never use generic filler words such as "task", "thing", "work", "item".
- Do not restate property words (priorities, statuses, dates); only content terms.
- Return ONLY JSON, nothing else.`

// objectPrompt asks for a JSON object keyed by keyword.
func objectPrompt(core []string, opts Options) string {
	kw, _ := json.Marshal(core)
	return fmt.Sprintf(
		"Keywords: %s\nLanguages: %s\nVariants per keyword per language: %d\n\nReturn a JSON object mapping each keyword to a flat array of its %d variants.",
		kw, strings.Join(opts.Languages, ", "), opts.MaxPerLanguage,
		opts.MaxPerLanguage*len(opts.Languages),
	)
}

// arrayPrompt is the alternate request shape used on retry: one flat array.
func arrayPrompt(core []string, opts Options) string {
	kw, _ := json.Marshal(core)
	return fmt.Sprintf(
		"Keywords: %s\nLanguages: %s\n\nReturn ONLY a flat JSON array containing %d variant strings total (%d per keyword per language), grouped keyword by keyword.",
		kw, strings.Join(opts.Languages, ", "),
		len(core)*opts.MaxPerLanguage*len(opts.Languages),
		opts.MaxPerLanguage,
	)
}

// parseResponse extracts variant terms from an untrusted model reply.
// Handles fenced code blocks, keyword-keyed objects, envelope objects, and
// flat arrays. Output order is deterministic: variants follow core keyword
// order, then any unrecognized keys sorted.
func parseResponse(resp string, core []string) ([]string, error) {
	raw := extractJSON(resp)
	if raw == "" {
		return nil, fmt.Errorf("no JSON found in expansion response")
	}

	// Flat array.
	var flat []string
	if err := json.Unmarshal([]byte(raw), &flat); err == nil {
		return flat, nil
	}

	// Object keyed by keyword (values: array of strings, or per-language
	// objects), or an envelope like {"expansions": ...}.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("expansion response is neither array nor object: %w", err)
	}
	for _, envelope := range []string{"expansions", "keywords", "results", "variants"} {
		if inner, ok := obj[envelope]; ok && len(obj) == 1 {
			if err := json.Unmarshal(inner, &flat); err == nil {
				return flat, nil
			}
			var innerObj map[string]json.RawMessage
			if err := json.Unmarshal(inner, &innerObj); err == nil {
				obj = innerObj
			}
		}
	}

	collect := func(raw json.RawMessage) []string {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
		var byLang map[string][]string
		if err := json.Unmarshal(raw, &byLang); err == nil {
			langs := make([]string, 0, len(byLang))
			for l := range byLang {
				langs = append(langs, l)
			}
			sort.Strings(langs)
			var out []string
			for _, l := range langs {
				out = append(out, byLang[l]...)
			}
			return out
		}
		return nil
	}

	var out []string
	used := make(map[string]bool, len(core))
	for _, k := range core {
		for objKey, raw := range obj {
			if strings.EqualFold(strings.TrimSpace(objKey), strings.TrimSpace(k)) {
				out = append(out, collect(raw)...)
				used[objKey] = true
				break
			}
		}
	}
	var extra []string
	for objKey := range obj {
		if !used[objKey] {
			extra = append(extra, objKey)
		}
	}
	sort.Strings(extra)
	for _, objKey := range extra {
		out = append(out, collect(obj[objKey])...)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("expansion response contained no variant terms")
	}
	return out, nil
}

// extractJSON strips markdown fences and returns the first JSON value in
// the text.
func extractJSON(resp string) string {
	resp = strings.TrimSpace(resp)

	if strings.Contains(resp, "```") {
		lines := strings.Split(resp, "\n")
		var cleaned []string
		inBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				cleaned = append(cleaned, line)
			}
		}
		if len(cleaned) > 0 {
			resp = strings.Join(cleaned, "\n")
		}
	}

	// Find the first balanced JSON object or array.
	start := strings.IndexAny(resp, "[{")
	if start < 0 {
		return ""
	}
	open := resp[start]
	closing := byte(']')
	if open == '{' {
		closing = '}'
	}
	depth := 0
	inString := false
	for i := start; i < len(resp); i++ {
		c := resp[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return resp[start : i+1]
			}
		}
	}
	return ""
}

// filterVariants drops empty, duplicate, core-identical, and generic terms.
// Generic-query words match nearly everything and inflate scores for
// irrelevant tasks, so they are rejected outright.
func filterVariants(variants, core []string, voc *vocab.Vocabulary) []string {
	seen := make(map[string]bool, len(variants)+len(core))
	for _, k := range core {
		seen[strings.ToLower(strings.TrimSpace(k))] = true
	}
	var out []string
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		if seen[lower] {
			continue
		}
		if voc.IsGenericWord(v) || voc.IsStopWord(v) {
			continue
		}
		seen[lower] = true
		out = append(out, v)
	}
	return out
}

// merge returns core plus variants preserving order, core first.
func merge(core, variants []string) []string {
	out := make([]string, 0, len(core)+len(variants))
	seen := make(map[string]bool, len(core)+len(variants))
	for _, k := range core {
		lower := strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, k)
	}
	for _, v := range variants {
		lower := strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, v)
	}
	return out
}
