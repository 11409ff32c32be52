// Package ingest extracts checkbox tasks from markdown notes and keeps the
// task index in sync with the corpus on disk.
package ingest

import (
	"bufio"
	"regexp"
	"strings"
	"time"

	"github.com/fernwick/taskrank/internal/task"
	"github.com/fernwick/taskrank/internal/vocab"
)

// checkboxRe matches one checkbox line: optional indent, a list bullet,
// the bracketed status symbol, and the body.
var checkboxRe = regexp.MustCompile(`^([ \t]*)(?:[-*+]|\d+[.)])\s+\[(.)\]\s+(.*)$`)

var (
	dueEmojiRe      = regexp.MustCompile(`[📅🗓️]\s*(\d{4}-\d{2}-\d{2})`)
	dueWordRe       = regexp.MustCompile(`(?i)\bdue:\s*(\d{4}-\d{2}-\d{2})`)
	createdEmojiRe  = regexp.MustCompile(`➕\s*(\d{4}-\d{2}-\d{2})`)
	completeEmojiRe = regexp.MustCompile(`✅\s*(\d{4}-\d{2}-\d{2})`)
	prioLetterRe    = regexp.MustCompile(`\[#([A-Ca-c])\]`)
	tagRe           = regexp.MustCompile(`#([\p{L}\p{N}_][\p{L}\p{N}_/-]*)`)
	spaceRe         = regexp.MustCompile(`\s{2,}`)
)

// priorityEmoji maps urgency markers to canonical levels, most urgent
// first so a line carrying several markers resolves deterministically.
var priorityEmoji = []struct {
	marker string
	level  int
}{
	{"🔺", 1},
	{"⏫", 2},
	{"🔼", 3},
	{"🔽", 4},
	{"⏬", 5},
}

// ParseTasks extracts every checkbox line from a markdown document.
// sourceFile and folder are recorded verbatim; ParentID is filled with the
// source line of the enclosing parent checkbox, resolved by indentation.
// Checkbox-looking lines inside fenced code blocks are ignored.
func ParseTasks(content, sourceFile, folder string, voc *vocab.Vocabulary) []*task.Task {
	if voc == nil {
		voc = vocab.Default()
	}

	var tasks []*task.Task
	// Indentation stack of open parents, shallowest first.
	type frame struct {
		indent int
		line   int
	}
	var stack []frame

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	inCodeBlock := false

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}

		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
				// A flush-left non-task line closes any open nesting.
				stack = stack[:0]
			}
			continue
		}

		indent := indentWidth(m[1])
		symbol := m[2]
		body := m[3]

		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		parentLine := 0
		if len(stack) > 0 {
			parentLine = stack[len(stack)-1].line
		}
		stack = append(stack, frame{indent: indent, line: lineNum})

		t := &task.Task{
			SourceFile: sourceFile,
			SourceLine: lineNum,
			Symbol:     symbol,
			Folder:     folder,
			ParentID:   int64(parentLine),
		}
		if key, ok := voc.StatusForSymbol(symbol); ok {
			t.Status = key
		}
		t.Text = extractMetadata(body, t)
		if t.Text == "" {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks
}

// extractMetadata pulls dates, priority markers, and tags out of the task
// body and returns the cleaned display text. Tags stay in the text; date
// and priority markers are stripped.
func extractMetadata(body string, t *task.Task) string {
	if m := dueEmojiRe.FindStringSubmatch(body); m != nil {
		t.Due = parseDay(m[1])
		body = dueEmojiRe.ReplaceAllString(body, " ")
	} else if m := dueWordRe.FindStringSubmatch(body); m != nil {
		t.Due = parseDay(m[1])
		body = dueWordRe.ReplaceAllString(body, " ")
	}
	if m := createdEmojiRe.FindStringSubmatch(body); m != nil {
		t.Created = parseDay(m[1])
		body = createdEmojiRe.ReplaceAllString(body, " ")
	}
	if m := completeEmojiRe.FindStringSubmatch(body); m != nil {
		t.Completed = parseDay(m[1])
		body = completeEmojiRe.ReplaceAllString(body, " ")
	}

	for _, pe := range priorityEmoji {
		if strings.Contains(body, pe.marker) {
			if t.Priority == 0 {
				t.Priority = pe.level
			}
			body = strings.ReplaceAll(body, pe.marker, " ")
		}
	}
	if t.Priority == 0 {
		if m := prioLetterRe.FindStringSubmatch(body); m != nil {
			t.Priority = int(strings.ToUpper(m[1])[0]-'A') + 1
			body = prioLetterRe.ReplaceAllString(body, " ")
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t.Tags = appendUniqueTag(t.Tags, strings.ToLower(m[1]))
	}

	body = spaceRe.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}

func appendUniqueTag(tags []string, tag string) []string {
	for _, g := range tags {
		if g == tag {
			return tags
		}
	}
	return append(tags, tag)
}

func parseDay(s string) *time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	d = d.UTC()
	return &d
}

// indentWidth measures leading whitespace with tabs counting as 4 columns.
func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		if r == '\t' {
			w += 4
		} else {
			w++
		}
	}
	return w
}
