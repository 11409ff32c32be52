package expand

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fernwick/taskrank/internal/llm"
	"github.com/fernwick/taskrank/internal/vocab"
)

// fakeProvider returns canned responses in sequence.
type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeProvider) Name() string { return "fake/test" }

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (llm.Completion, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.Completion{Usage: llm.EstimateUsage(prompt)}, f.errs[i]
	}
	resp := ""
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return llm.Completion{Text: resp, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}}, nil
}

func testOpts() Options {
	return Options{
		Languages:      []string{"en", "zh"},
		MaxPerLanguage: 3,
		Vocabulary:     vocab.Default(),
	}
}

func TestExpandUniformAcrossKeywords(t *testing.T) {
	ResetCache()
	// Every keyword gets the same variant budget, proper nouns included.
	p := &fakeProvider{responses: []string{`{
		"deploy": ["release", "rollout", "ship", "部署", "发布", "上线"],
		"Atlas": ["atlas project", "atlas system", "atlas service", "阿特拉斯", "图集系统", "地图集"]
	}`}}

	result, err := Expand(context.Background(), p, []string{"deploy", "Atlas"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Expected != 12 {
		t.Errorf("Expected = %d, want 12", result.Expected)
	}
	if len(result.Variants) != 12 {
		t.Errorf("got %d variants, want 12: %v", len(result.Variants), result.Variants)
	}
	if result.Shortfall {
		t.Error("full response should not flag shortfall")
	}
	// Variants for the proper noun must be present.
	found := false
	for _, v := range result.Variants {
		if v == "阿特拉斯" {
			found = true
		}
	}
	if !found {
		t.Error("proper-noun keyword was not expanded")
	}
	// Expanded is a superset: core first, then variants.
	if len(result.Expanded) != 14 {
		t.Errorf("Expanded size = %d, want 14", len(result.Expanded))
	}
	if result.Expanded[0] != "deploy" || result.Expanded[1] != "Atlas" {
		t.Errorf("core keywords must lead Expanded, got %v", result.Expanded[:2])
	}
	if result.Usage.TotalTokens != 30 {
		t.Errorf("usage = %+v, want total 30", result.Usage)
	}
}

func TestExpandFailureFallsBackToCore(t *testing.T) {
	ResetCache()
	p := &fakeProvider{errs: []error{
		fmt.Errorf("connection refused"),
		fmt.Errorf("connection refused"),
	}}

	core := []string{"deploy", "server"}
	result, err := Expand(context.Background(), p, core, testOpts())
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("error is %T, want *FailedError", err)
	}
	if len(result.Expanded) != 2 || result.Expanded[0] != "deploy" || result.Expanded[1] != "server" {
		t.Errorf("fallback Expanded = %v, want core unchanged", result.Expanded)
	}
	// Dispatch happened, so the cost estimate must be nonzero.
	if !result.Usage.Estimated || result.Usage.TotalTokens == 0 {
		t.Errorf("usage = %+v, want estimated nonzero", result.Usage)
	}
}

func TestExpandRetriesWithAlternateShape(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{
		"I cannot produce JSON right now.",
		`["release", "rollout", "ship", "部署", "发布", "上线"]`,
	}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if !result.Retried {
		t.Error("Retried flag not set")
	}
	if p.calls != 2 {
		t.Fatalf("provider called %d times, want 2", p.calls)
	}
	if len(result.Variants) != 6 {
		t.Errorf("got %d variants, want 6", len(result.Variants))
	}
	// Retry prompt uses the flat-array shape.
	if !strings.Contains(p.prompts[1], "flat JSON array") {
		t.Errorf("retry prompt did not switch shape: %q", p.prompts[1])
	}
	// Usage accumulates across both calls.
	if result.Usage.TotalTokens != 60 {
		t.Errorf("usage total = %d, want 60", result.Usage.TotalTokens)
	}
}

func TestExpandBadJSONAfterRetry(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{"nope", "still nope"}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	var fe *FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("error is %T, want *FailedError", err)
	}
	if fe.Reason != "bad_json" {
		t.Errorf("reason = %q, want bad_json", fe.Reason)
	}
	if len(result.Expanded) != 1 || result.Expanded[0] != "deploy" {
		t.Errorf("fallback Expanded = %v", result.Expanded)
	}
}

func TestExpandRejectsGenericVariants(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{
		`{"deploy": ["release", "task", "thing", "rollout", "stuff", "ship"]}`,
	}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range result.Variants {
		if v == "task" || v == "thing" || v == "stuff" {
			t.Errorf("generic variant %q survived filtering", v)
		}
	}
	if len(result.Variants) != 3 {
		t.Errorf("got %d variants, want 3 specific ones: %v", len(result.Variants), result.Variants)
	}
}

func TestExpandShortfallFlag(t *testing.T) {
	ResetCache()
	// Expected 6 (1 keyword x 3 x 2 languages); only 2 arrive.
	p := &fakeProvider{responses: []string{`{"deploy": ["release", "部署"]}`}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Shortfall {
		t.Error("shortfall not flagged")
	}
	// A shortfall is a quality signal, not a failure: variants still usable.
	if len(result.Variants) != 2 {
		t.Errorf("got %d variants, want 2", len(result.Variants))
	}
}

func TestExpandFencedResponse(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{
		"```json\n{\"deploy\": [\"release\", \"rollout\"]}\n```",
	}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Variants) != 2 {
		t.Errorf("fenced JSON not parsed: %v", result.Variants)
	}
}

func TestExpandEnvelopeResponse(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{
		`{"expansions": {"deploy": ["release", "rollout"]}}`,
	}}

	result, err := Expand(context.Background(), p, []string{"deploy"}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Variants) != 2 {
		t.Errorf("envelope JSON not parsed: %v", result.Variants)
	}
}

func TestExpandCacheHit(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{`{"deploy": ["release", "rollout"]}`}}
	opts := testOpts()

	first, err := Expand(context.Background(), p, []string{"deploy"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Error("first call must not be cached")
	}

	second, err := Expand(context.Background(), p, []string{"deploy"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached {
		t.Error("second call should hit the cache")
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
	if strings.Join(second.Expanded, ",") != strings.Join(first.Expanded, ",") {
		t.Errorf("cached result differs: %v vs %v", second.Expanded, first.Expanded)
	}
	// Cache hits cost nothing.
	if second.Usage.TotalTokens != 0 {
		t.Errorf("cache hit usage = %+v, want zero", second.Usage)
	}
}

func TestExpandCacheKeyedByOptions(t *testing.T) {
	ResetCache()
	p := &fakeProvider{responses: []string{
		`{"deploy": ["release"]}`,
		`{"deploy": ["rollout"]}`,
	}}

	opts1 := testOpts()
	opts2 := testOpts()
	opts2.MaxPerLanguage = 1
	if _, err := Expand(context.Background(), p, []string{"deploy"}, opts1); err != nil {
		t.Fatal(err)
	}
	if _, err := Expand(context.Background(), p, []string{"deploy"}, opts2); err != nil {
		t.Fatal(err)
	}
	if p.calls != 2 {
		t.Errorf("different options must not share cache entries; provider called %d times", p.calls)
	}
}

func TestExpandEmptyCore(t *testing.T) {
	ResetCache()
	p := &fakeProvider{}
	result, err := Expand(context.Background(), p, nil, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 0 {
		t.Error("provider must not be called for an empty keyword set")
	}
	if len(result.Expanded) != 0 {
		t.Errorf("Expanded = %v, want empty", result.Expanded)
	}
}

func TestExpandNilProvider(t *testing.T) {
	ResetCache()
	result, err := Expand(context.Background(), nil, []string{"deploy"}, testOpts())
	var fe *FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("error is %T, want *FailedError", err)
	}
	if fe.Reason != "no_provider" {
		t.Errorf("reason = %q, want no_provider", fe.Reason)
	}
	if len(result.Expanded) != 1 || result.Expanded[0] != "deploy" {
		t.Errorf("fallback Expanded = %v", result.Expanded)
	}
	// Nothing dispatched: cost stays zero and is not an estimate.
	if result.Usage.TotalTokens != 0 || result.Usage.Estimated {
		t.Errorf("pre-dispatch failure usage = %+v, want zero", result.Usage)
	}
}

func TestParseResponseDeterministicOrder(t *testing.T) {
	resp := `{"server": ["host", "machine"], "deploy": ["release", "rollout"]}`
	core := []string{"deploy", "server"}
	for i := 0; i < 10; i++ {
		got, err := parseResponse(resp, core)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"release", "rollout", "host", "machine"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("order varies: got %v, want %v", got, want)
		}
	}
}

func TestParseResponsePerLanguageObjects(t *testing.T) {
	resp := `{"deploy": {"en": ["release", "rollout"], "zh": ["部署", "发布"]}}`
	got, err := parseResponse(resp, []string{"deploy"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("got %d terms, want 4: %v", len(got), got)
	}
}
