package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel strings injected into the prompt when there is no usable context.
// The model sees an explicit statement instead of an empty structure.
const (
	NoContextProvided     = "No additional context provided"
	NoSerializableContext = "No serializable context available"
	ContextError          = "Error processing context"
)

// SerializeContext renders origin metadata as an indented JSON string for
// prompt injection. Values that cannot be represented are dropped from their
// parent container with a debug log; the context itself is never mutated and
// serialization never fails. Keys render in sorted order.
func SerializeContext(context map[string]any, log *slog.Logger) string {
	if log == nil {
		log = slog.Default()
	}
	if len(context) == 0 {
		return NoContextProvided
	}

	cleaned := cleanMap(context, log)
	if len(cleaned) == 0 {
		return NoSerializableContext
	}
	for k := range context {
		if _, ok := cleaned[k]; !ok {
			log.Warn("skipped non-serializable context key", "key", k)
		}
	}

	out, err := json.MarshalIndent(cleaned, "", "    ")
	if err != nil {
		log.Error("context serialization failed", "error", err)
		return ContextError
	}
	return string(out)
}

func cleanMap(m map[string]any, log *slog.Logger) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		cv, ok := cleanValue(v, log)
		if !ok {
			log.Debug("skipping non-serializable value", "key", k, "type", fmt.Sprintf("%T", v))
			continue
		}
		out[k] = cv
	}
	return out
}

func cleanSlice(s []any, log *slog.Logger) []any {
	out := make([]any, 0, len(s))
	for i, v := range s {
		cv, ok := cleanValue(v, log)
		if !ok {
			log.Debug("skipping non-serializable value", "index", i, "type", fmt.Sprintf("%T", v))
			continue
		}
		out = append(out, cv)
	}
	return out
}

// cleanValue converts v into something the JSON encoder accepts, or reports
// that it cannot be represented.
func cleanValue(v any, log *slog.Logger) (any, bool) {
	switch t := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, true
	case float32, float64:
		// NaN and infinities have no JSON representation.
		if _, err := json.Marshal(v); err != nil {
			return nil, false
		}
		return v, true
	case time.Time:
		return t.Format(time.RFC3339), true
	case time.Duration:
		return t.String(), true
	case error:
		return t.Error(), true
	case fmt.Stringer:
		return t.String(), true
	case map[string]any:
		return cleanMap(t, log), true
	case []any:
		return cleanSlice(t, log), true
	default:
		if _, err := json.Marshal(v); err == nil {
			return v, true
		}
		return nil, false
	}
}
