package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencedJSON      = regexp.MustCompile("(?s)```json(.*?)```")
	trailingCommaRE = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRE       = regexp.MustCompile(`([{,]\s*)(\w+)(\s*:)`)
)

var (
	defaultRequired  = []string{"title", "description", "priority", "estimated_effort"}
	researchRequired = []string{"title", "description"}
)

// DefaultParser decodes the strict object format: a top-level JSON object
// whose "tasks" array holds fully specified task records. A response that is
// not valid JSON is an ErrUnparsable failure; individual records missing
// required fields are dropped with a warning.
type DefaultParser struct {
	Log *slog.Logger
}

func (p DefaultParser) Parse(response string) ([]Task, error) {
	var payload struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(response), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if payload.Tasks == nil {
		return []Task{}, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(payload.Tasks, &items); err != nil {
		return nil, fmt.Errorf("%w: tasks is not a task list: %v", ErrUnparsable, err)
	}

	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	tasks := make([]Task, 0, len(items))
	for _, m := range items {
		t, ok := taskFrom(m, defaultRequired)
		if !ok {
			log.Warn("skipping task with missing fields", "task", preview(fmt.Sprint(m)))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ResearchParser recovers tasks from the first fenced ```json block in the
// response. A response without a block legitimately means no tasks; a block
// that cannot be decoded even after cleanup is an ErrUnparsable failure,
// which callers must be able to tell apart from "found nothing".
type ResearchParser struct {
	Log *slog.Logger
}

func (p ResearchParser) Parse(response string) ([]Task, error) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	m := fencedJSON.FindStringSubmatch(response)
	if m == nil {
		log.Debug("no fenced json block in response, assuming no tasks")
		return []Task{}, nil
	}
	raw := m[1]
	log.Debug("extracted json block", "json", preview(raw))

	cleaned := cleanJSONString(raw)
	log.Debug("cleaned json block", "json", preview(cleaned))

	var top any
	if err := json.Unmarshal([]byte(cleaned), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	list, ok := top.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is %T, want a list", ErrUnparsable, top)
	}

	tasks := make([]Task, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			log.Warn("skipping non-object research task", "task", preview(fmt.Sprint(item)))
			continue
		}
		t, ok := taskFrom(obj, researchRequired)
		if !ok {
			log.Warn("skipping research task with missing fields", "task", preview(fmt.Sprint(obj)))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// taskFrom builds a Task from a decoded object, requiring the named fields
// to be present and title/description to be non-empty.
func taskFrom(m map[string]any, required []string) (Task, bool) {
	for _, field := range required {
		if _, ok := m[field]; !ok {
			return Task{}, false
		}
	}
	t := Task{
		Title:            stringField(m, "title"),
		Description:      stringField(m, "description"),
		Priority:         stringField(m, "priority"),
		EstimatedEffort:  stringField(m, "estimated_effort"),
		WebSearchQueries: queryList(m["web_search_queries"]),
	}
	if t.Title == "" || t.Description == "" {
		return Task{}, false
	}
	return t, true
}

func stringField(m map[string]any, key string) string {
	s, _ := asString(m[key])
	return s
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// queryList accepts the web_search_queries field as either a single string
// or a list of strings; models emit both shapes.
func queryList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := asString(item); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// cleanJSONString repairs common model JSON mistakes ahead of strict
// decoding: double-escaped sequences, trailing commas before closing
// brackets, unquoted object keys, and raw control characters inside string
// literals. The repair is textual and heuristic; string content containing
// literal braces or commas may rarely be touched.
func cleanJSONString(s string) string {
	s = unescape(s)
	s = trailingCommaRE.ReplaceAllString(s, "$1")
	s = bareKeyRE.ReplaceAllString(s, `${1}"${2}"${3}`)
	s = escapeControls(s)
	return strings.TrimSpace(s)
}

// unescape best-effort decodes backslash sequences the model double-escaped.
// Unknown sequences are kept verbatim.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			sb.WriteByte('\n')
			i++
		case 't':
			sb.WriteByte('\t')
			i++
		case 'r':
			sb.WriteByte('\r')
			i++
		case '\\':
			sb.WriteByte('\\')
			i++
		case '"':
			sb.WriteByte('"')
			i++
		case '\'':
			sb.WriteByte('\'')
			i++
		case 'u':
			if i+5 < len(s) {
				if code, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
					sb.WriteRune(rune(code))
					i += 5
					break
				}
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// escapeControls re-escapes raw control characters inside string literals,
// which a strict JSON decoder rejects. Characters outside string literals
// are left alone.
func escapeControls(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r < 0x20:
				switch r {
				case '\n':
					sb.WriteString(`\n`)
				case '\t':
					sb.WriteString(`\t`)
				case '\r':
					sb.WriteString(`\r`)
				default:
					fmt.Fprintf(&sb, `\u%04x`, r)
				}
				continue
			}
		} else if r == '"' {
			inString = true
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
