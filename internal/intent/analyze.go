package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/fernwick/taskrank/internal/vocab"
)

// DefaultVaguenessThreshold is the generic-word ratio at or above which a
// query with no explicit property filter is classified as vague.
const DefaultVaguenessThreshold = 0.7

// Config controls analysis behavior. The zero value is usable.
type Config struct {
	// VaguenessThreshold overrides DefaultVaguenessThreshold when > 0.
	VaguenessThreshold float64
	// Now anchors relative date resolution. Zero means time.Now().
	Now time.Time
	// ExcludeCompletedWhenVague opts vague queries into hiding completed
	// and cancelled tasks. Off by default: some users want completed items
	// in open-ended queries, so this is an explicit per-mode choice.
	ExcludeCompletedWhenVague bool
}

var (
	tagRe        = regexp.MustCompile(`#([\p{L}\p{N}][\p{L}\p{N}/_-]*)`)
	taggedRe     = regexp.MustCompile(`(?i)\b(?:tagged|tag)[:\s]+"?([\p{L}\p{N}/_-]+)"?`)
	folderRe     = regexp.MustCompile(`(?i)\bin\s+(?:the\s+)?folder\s+"?([^"\s,?!]+)"?`)
	folderSufRe  = regexp.MustCompile(`(?i)\bin\s+(?:the\s+)?"?([\p{L}\p{N}/_-]+)"?\s+folder\b`)
	folderColRe  = regexp.MustCompile(`(?i)\bfolder[:\s]+"?([^"\s,?!]+)"?`)
	symbolRe     = regexp.MustCompile(`\[(.)\]`)
	statusListRe = regexp.MustCompile(`(?i)\bstatus(?:es)?[:\s]+([^.?!#]+)`)
	isoDateRe    = regexp.MustCompile(`(?i)\b(?:due\s+)?(before|by|after|since|on|until)?\s*(\d{4}-\d{2}-\d{2})\b`)
	inDaysRe     = regexp.MustCompile(`(?i)\b(in|within|next)\s+(\d{1,3})\s+days?\b`)
	prioNumRe    = regexp.MustCompile(`(?i)\b(?:priority|prio|p)\s*[:=]?\s*([1-9])\b`)
	prioPreRe    = regexp.MustCompile(`(?i)\b([\p{L}]+)[\s-]+priority\b`)
	prioPostRe   = regexp.MustCompile(`(?i)\bpriority[:\s]+([\p{L}]+)`)
)

// standalonePriorityWords are priority aliases unambiguous enough to count
// without an adjacent "priority" token. Short adjectives like "high" or
// "low" are excluded: they are too common in ordinary content queries.
var standalonePriorityWords = map[string]struct{}{
	"urgent": {}, "critical": {}, "highest": {}, "lowest": {},
	"urgente": {}, "紧急": {}, "最高": {}, "最低": {},
}

// Analyze extracts a structured intent from a raw query. It never fails;
// unrecognized fragments degrade into plain keywords.
func Analyze(query string, voc *vocab.Vocabulary, cfg Config) Intent {
	in := Intent{Raw: query}
	if voc == nil {
		voc = vocab.Default()
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	threshold := cfg.VaguenessThreshold
	if threshold <= 0 {
		threshold = DefaultVaguenessThreshold
	}

	work := " " + collapseSpaces(query) + " "

	work = extractTags(work, &in)
	work = extractFolder(work, &in)
	work = extractStatusSymbols(work, voc, &in)
	work = extractStatusList(work, voc, &in)
	work = extractExplicitDates(work, now, &in)
	work = extractDayOffsets(work, now, &in)
	work = extractDueTerms(work, voc, now, &in)
	work = extractPriorities(work, voc, &in)
	work = extractStatusAliases(work, voc, &in)

	// Whatever survives property extraction is keyword material.
	candidates := keywordCandidates(work, voc)

	genericCount := 0
	var core []string
	for _, tok := range candidates {
		if voc.IsGenericWord(tok) {
			genericCount++
			continue
		}
		core = append(core, tok)
	}
	in.CoreKeywords = dedupeFold(core)

	ratio := 0.0
	switch {
	case len(candidates) > 0:
		ratio = float64(genericCount) / float64(len(candidates))
	case len(in.CoreKeywords) == 0 && strings.TrimSpace(query) != "":
		// Everything was consumed by property phrases and stop words; the
		// query carries no content keywords, so treat it as fully generic.
		ratio = 1.0
	}
	in.IsVague = ratio >= threshold && !in.HasPropertyFilter()

	if in.IsVague {
		// A vague query with a relative time expression wants an inclusive
		// range: "what should I do today" expects overdue items surfaced
		// too. Explicit dates keep their exact operator.
		if in.Due != nil && in.Due.Term != "" && len(in.Statuses) == 0 {
			widened := in.Due.Widen()
			in.Due = &widened
		}
		if cfg.ExcludeCompletedWhenVague && len(in.Statuses) == 0 {
			in.ExcludeCompleted = true
		}
	}

	return in
}

func extractTags(work string, in *Intent) string {
	for _, m := range tagRe.FindAllStringSubmatch(work, -1) {
		in.Tags = append(in.Tags, strings.ToLower(m[1]))
	}
	work = tagRe.ReplaceAllString(work, " ")
	for _, m := range taggedRe.FindAllStringSubmatch(work, -1) {
		in.Tags = append(in.Tags, strings.ToLower(m[1]))
	}
	work = taggedRe.ReplaceAllString(work, " ")
	in.Tags = dedupeFold(in.Tags)
	return work
}

func extractFolder(work string, in *Intent) string {
	for _, re := range []*regexp.Regexp{folderRe, folderSufRe, folderColRe} {
		if m := re.FindStringSubmatch(work); m != nil {
			if in.Folder == "" {
				in.Folder = m[1]
			}
			work = re.ReplaceAllString(work, " ")
		}
	}
	return work
}

func extractStatusSymbols(work string, voc *vocab.Vocabulary, in *Intent) string {
	return symbolRe.ReplaceAllStringFunc(work, func(m string) string {
		sym := strings.Trim(m, "[]")
		if key, ok := voc.StatusForSymbol(sym); ok {
			in.Statuses = append(in.Statuses, key)
			return " "
		}
		return m
	})
}

// extractStatusList handles "status: open, in progress" style lists.
func extractStatusList(work string, voc *vocab.Vocabulary, in *Intent) string {
	m := statusListRe.FindStringSubmatchIndex(work)
	if m == nil {
		return work
	}
	tail := work[m[2]:m[3]]
	consumed := 0
	for _, part := range strings.Split(tail, ",") {
		trimmed := strings.TrimSpace(part)
		key, ok := voc.StatusForAlias(trimmed)
		if !ok {
			break
		}
		in.Statuses = append(in.Statuses, key)
		consumed += len(part) + 1
	}
	if consumed == 0 {
		return work
	}
	end := m[2] + consumed - 1
	if end > m[3] {
		end = m[3]
	}
	return work[:m[0]] + " " + work[end:]
}

func extractExplicitDates(work string, now time.Time, in *Intent) string {
	m := isoDateRe.FindStringSubmatch(work)
	if m == nil {
		return work
	}
	d, err := time.Parse("2006-01-02", m[2])
	if err != nil {
		return work
	}
	if in.Due == nil {
		f := DueFilter{Date: day(d)}
		switch strings.ToLower(m[1]) {
		case "before":
			f.Op = DueBefore
		case "by", "until":
			f.Op = DueOnOrBefore
		case "after", "since":
			f.Op = DueOnOrAfter
		default:
			f.Op = DueOn
		}
		in.Due = &f
	}
	return isoDateRe.ReplaceAllString(work, " ")
}

func extractDayOffsets(work string, now time.Time, in *Intent) string {
	m := inDaysRe.FindStringSubmatch(work)
	if m == nil {
		return work
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return work
	}
	if in.Due == nil {
		today := day(now)
		switch strings.ToLower(m[1]) {
		case "in":
			in.Due = &DueFilter{Op: DueOn, Date: today.AddDate(0, 0, n)}
		default: // within, next
			in.Due = &DueFilter{Op: DueBetween, Date: today, End: today.AddDate(0, 0, n)}
		}
	}
	return inDaysRe.ReplaceAllString(work, " ")
}

// extractDueTerms matches relative due-date phrases from the vocabulary,
// longest phrase first so "this week" wins over any single-word overlap.
func extractDueTerms(work string, voc *vocab.Vocabulary, now time.Time, in *Intent) string {
	for _, phrase := range duePhrasesByLength(voc) {
		term, _ := voc.DueTermFor(phrase)
		var matched bool
		work, matched = removePhrase(work, phrase)
		if matched && in.Due == nil {
			f := resolveRelTerm(term, now)
			in.Due = &f
		}
	}
	return work
}

func extractPriorities(work string, voc *vocab.Vocabulary, in *Intent) string {
	for _, m := range prioNumRe.FindAllStringSubmatch(work, -1) {
		if lvl, err := strconv.Atoi(m[1]); err == nil && lvl >= 1 && lvl <= voc.MaxPriority() {
			in.Priorities = append(in.Priorities, lvl)
		}
	}
	work = prioNumRe.ReplaceAllString(work, " ")

	for _, re := range []*regexp.Regexp{prioPreRe, prioPostRe} {
		if m := re.FindStringSubmatch(work); m != nil {
			if lvl, ok := voc.PriorityForAlias(m[1]); ok {
				in.Priorities = append(in.Priorities, lvl)
				work = re.ReplaceAllString(work, " ")
			}
		}
	}

	// Standalone strong aliases like "urgent".
	for alias := range standalonePriorityWords {
		if lvl, ok := voc.PriorityForAlias(alias); ok {
			var matched bool
			work, matched = removePhrase(work, alias)
			if matched {
				in.Priorities = append(in.Priorities, lvl)
			}
		}
	}

	in.Priorities = dedupeInts(in.Priorities)
	return work
}

// extractStatusAliases matches bare status aliases ("done", "in progress",
// "已完成"), longest first.
func extractStatusAliases(work string, voc *vocab.Vocabulary, in *Intent) string {
	type aliasKey struct {
		alias string
		key   string
	}
	var aliases []aliasKey
	for _, e := range voc.Statuses() {
		aliases = append(aliases, aliasKey{e.Key, e.Key})
		for _, a := range e.Aliases {
			aliases = append(aliases, aliasKey{a, e.Key})
		}
	}
	sort.SliceStable(aliases, func(i, j int) bool {
		return len(aliases[i].alias) > len(aliases[j].alias)
	})
	for _, ak := range aliases {
		var matched bool
		work, matched = removePhrase(work, ak.alias)
		if matched {
			in.Statuses = append(in.Statuses, ak.key)
		}
	}
	in.Statuses = dedupeFold(in.Statuses)
	return work
}

// keywordCandidates tokenizes the residual text and drops stop words.
// Generic-query words are kept here; the caller needs them for the
// vagueness ratio before removing them from the core set.
func keywordCandidates(work string, voc *vocab.Vocabulary) []string {
	var out []string
	for _, tok := range tokenize(work) {
		if voc.IsStopWord(tok) {
			continue
		}
		if isHan(tok) {
			for _, sub := range splitHanByVocab(tok, voc) {
				if !voc.IsStopWord(sub) {
					out = append(out, sub)
				}
			}
			continue
		}
		out = append(out, tok)
	}
	return out
}

// splitHanByVocab greedily segments a Han run against known vocabulary
// words (generic and stop words) so "做什么" classifies as generic instead
// of becoming a noise keyword. Unmatched spans stay whole.
func splitHanByVocab(run string, voc *vocab.Vocabulary) []string {
	rs := []rune(run)
	var out []string
	var pending []rune
	flush := func() {
		if len(pending) > 0 {
			out = append(out, string(pending))
			pending = nil
		}
	}
	i := 0
	for i < len(rs) {
		matched := 0
		// Longest match first, up to 4 runes.
		for l := 4; l >= 1; l-- {
			if i+l > len(rs) {
				continue
			}
			w := string(rs[i : i+l])
			if voc.IsGenericWord(w) || voc.IsStopWord(w) {
				matched = l
				break
			}
		}
		if matched > 0 {
			flush()
			out = append(out, string(rs[i:i+matched]))
			i += matched
			continue
		}
		pending = append(pending, rs[i])
		i++
	}
	flush()
	return out
}

// removePhrase removes every occurrence of phrase from work, using word
// boundaries for scripts with spaces and plain substring matching for Han
// phrases. Returns the updated string and whether anything matched.
func removePhrase(work, phrase string) (string, bool) {
	if phrase == "" {
		return work, false
	}
	if isHan(phrase) {
		if !strings.Contains(work, phrase) {
			return work, false
		}
		return strings.ReplaceAll(work, phrase, " "), true
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
	if err != nil {
		return work, false
	}
	if !re.MatchString(work) {
		return work, false
	}
	return re.ReplaceAllString(work, " "), true
}

func duePhrasesByLength(voc *vocab.Vocabulary) []string {
	phrases := voc.DuePhrases()
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})
	return phrases
}

func isHan(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return s != ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupeInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
