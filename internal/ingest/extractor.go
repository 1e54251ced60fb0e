package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/slsink/internal/logparse"
)

// ParseJSONLogEntries parses one JSON line into entries. It understands OTEL
// log data model envelopes and bare OTEL log records, and otherwise treats
// the object as a structured application log (pino, winston, zap, slog).
// It returns nil when the line is not a JSON object.
func ParseJSONLogEntries(line string) []Entry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil
	}

	if entries, ok := parseOTELJSONLogEntries(raw); ok {
		return entries
	}
	return []Entry{parseStructuredLog(raw, line)}
}

// ParseJSONLogEntry returns the first entry of ParseJSONLogEntries.
func ParseJSONLogEntry(line string) *Entry {
	entries := ParseJSONLogEntries(line)
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

// CreateFallbackLogEntry builds an entry from a plain-text line, sniffing
// the severity from the text.
func CreateFallbackLogEntry(line string) Entry {
	message := sanitizeLogMessage(line)
	return Entry{
		Level:   logparse.ToLevel(logparse.ExtractSeverityFromText(message)),
		Message: message,
	}
}

var (
	levelKeys   = []string{"level", "lvl", "severity", "levelname", "log.level"}
	messageKeys = []string{"msg", "message", "text", "log"}
	timeKeys    = []string{"time", "timestamp", "ts", "@timestamp"}
	appKeys     = []string{"_app"}
)

func parseStructuredLog(raw map[string]interface{}, line string) Entry {
	var e Entry
	consumed := map[string]bool{}

	levelFound := false
	for _, k := range levelKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		consumed[k] = true
		switch lv := v.(type) {
		case float64:
			e.Level = logparse.ToLevel(logparse.PinoLevelToString(int(lv)))
			levelFound = true
		case string:
			if lv != "" {
				e.Level = logparse.ToLevel(lv)
				levelFound = true
			}
		}
		if levelFound {
			break
		}
	}

	for _, k := range messageKeys {
		if s, ok := raw[k].(string); ok && s != "" {
			consumed[k] = true
			e.Message = sanitizeLogMessage(s)
			break
		}
	}
	if e.Message == "" {
		e.Message = sanitizeLogMessage(line)
	}
	if !levelFound {
		e.Level = logparse.ToLevel(logparse.ExtractSeverityFromText(e.Message))
	}

	for _, k := range timeKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if ts, parsed := parseTimeValue(v); parsed {
			consumed[k] = true
			e.Time = ts
			break
		}
	}

	for _, k := range appKeys {
		if app := ExtractStringField(raw, k); app != "" {
			consumed[k] = true
			e.Tags = map[string]string{"app": app}
		}
	}

	for _, k := range slices.Sorted(maps.Keys(raw)) {
		if consumed[k] {
			continue
		}
		if a, ok := jsonAttr(k, raw[k]); ok {
			e.Attrs = append(e.Attrs, a)
		}
	}
	return e
}

// jsonAttr converts a decoded JSON value into an attribute. Objects become
// groups; arrays are kept as JSON text.
func jsonAttr(key string, value interface{}) (slog.Attr, bool) {
	switch v := value.(type) {
	case nil:
		return slog.Attr{}, false
	case string:
		return slog.String(key, v), true
	case bool:
		return slog.Bool(key, v), true
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return slog.Int64(key, int64(v)), true
		}
		return slog.Float64(key, v), true
	case map[string]interface{}:
		attrs := make([]any, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			if a, ok := jsonAttr(k, v[k]); ok {
				attrs = append(attrs, a)
			}
		}
		if len(attrs) == 0 {
			return slog.Attr{}, false
		}
		return slog.Group(key, attrs...), true
	default:
		return slog.String(key, stringifyJSONValue(v)), true
	}
}

// parseTimeValue accepts RFC 3339 strings and numeric epochs in seconds,
// milliseconds or nanoseconds.
func parseTimeValue(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(n), true
		}
	case float64:
		return epochToTime(v), true
	}
	return time.Time{}, false
}

func epochToTime(v float64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, int64(v))
	case v > 1e14:
		return time.UnixMicro(int64(v))
	case v > 1e11:
		return time.UnixMilli(int64(v))
	default:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9))
	}
}

func parseOTELJSONLogEntries(raw map[string]interface{}) ([]Entry, bool) {
	if resourceLogs, ok := raw["resourceLogs"]; ok {
		return parseOTELResourceLogs(resourceLogs), true
	}

	if scopeLogs, ok := raw["scopeLogs"]; ok {
		resource := parseOTELResourceAttributes(raw["resource"])
		return parseOTELScopeLogs(scopeLogs, resource), true
	}

	if instrumentationLogs, ok := raw["instrumentationLibraryLogs"]; ok {
		resource := parseOTELResourceAttributes(raw["resource"])
		return parseOTELScopeLogs(instrumentationLogs, resource), true
	}

	if logRecords, ok := raw["logRecords"]; ok {
		resource := parseOTELResourceAttributes(raw["resource"])
		return parseOTELLogRecords(logRecords, resource, nil), true
	}

	if isOTELLogRecord(raw) {
		return []Entry{parseOTELLogRecord(raw, nil, nil)}, true
	}

	return nil, false
}

func parseOTELResourceLogs(value interface{}) []Entry {
	resourceLogs, ok := value.([]interface{})
	if !ok {
		return nil
	}

	var entries []Entry
	for _, item := range resourceLogs {
		resourceLog, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		resource := parseOTELResourceAttributes(resourceLog["resource"])
		scopeLogsVal := resourceLog["scopeLogs"]
		if scopeLogsVal == nil {
			// Older OTEL naming.
			scopeLogsVal = resourceLog["instrumentationLibraryLogs"]
		}
		entries = append(entries, parseOTELScopeLogs(scopeLogsVal, resource)...)
	}
	return entries
}

func parseOTELResourceAttributes(value interface{}) map[string]string {
	resource, ok := value.(map[string]interface{})
	if !ok {
		return map[string]string{}
	}
	return parseOTELAttributes(resource["attributes"])
}

func parseOTELScopeLogs(value interface{}, resource map[string]string) []Entry {
	scopeLogs, ok := value.([]interface{})
	if !ok {
		return nil
	}

	var entries []Entry
	for _, item := range scopeLogs {
		scopeLog, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		scopeAttrs := parseOTELAttributes(scopeLog["attributes"])
		scope, ok := scopeLog["scope"].(map[string]interface{})
		if !ok {
			scope, _ = scopeLog["instrumentationLibrary"].(map[string]interface{})
		}
		if scope != nil {
			if name := ExtractStringField(scope, "name"); name != "" {
				scopeAttrs["otel.scope.name"] = name
			}
			if version := ExtractStringField(scope, "version"); version != "" {
				scopeAttrs["otel.scope.version"] = version
			}
			maps.Copy(scopeAttrs, parseOTELAttributes(scope["attributes"]))
		}

		entries = append(entries, parseOTELLogRecords(scopeLog["logRecords"], resource, scopeAttrs)...)
	}
	return entries
}

func parseOTELLogRecords(value interface{}, resource, scope map[string]string) []Entry {
	logRecords, ok := value.([]interface{})
	if !ok {
		return nil
	}

	entries := make([]Entry, 0, len(logRecords))
	for _, item := range logRecords {
		logRecord, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entries = append(entries, parseOTELLogRecord(logRecord, resource, scope))
	}
	return entries
}

// parseOTELLogRecord builds an entry from one OTEL JSON log record. Resource
// attributes become tags; scope and record attributes become fields.
func parseOTELLogRecord(raw map[string]interface{}, resource, scope map[string]string) Entry {
	attributes := make(map[string]string, len(scope)+8)
	maps.Copy(attributes, scope)
	maps.Copy(attributes, parseOTELAttributes(raw["attributes"]))

	if traceID := ExtractStringField(raw, "traceId"); traceID != "" {
		attributes["trace.id"] = traceID
	}
	if spanID := ExtractStringField(raw, "spanId"); spanID != "" {
		attributes["span.id"] = spanID
	}
	if flags := stringifyJSONValue(raw["flags"]); flags != "" {
		attributes["trace.flags"] = flags
	}
	if dropped := stringifyJSONValue(raw["droppedAttributesCount"]); dropped != "" {
		attributes["otel.dropped_attributes_count"] = dropped
	}

	message := extractOTELBody(raw["body"])
	if message == "" {
		if encoded, err := json.Marshal(raw); err == nil {
			message = string(encoded)
		}
	}
	message = sanitizeLogMessage(message)

	var level slog.Level
	if severity := ExtractStringField(raw, "severityText"); severity != "" {
		level = logparse.ToLevel(severity)
	} else if n := parseOTELSeverityNumber(raw["severityNumber"]); n > 0 {
		level = logparse.OTELNumberToLevel(n)
	}

	e := Entry{
		Time:    extractOTELTimestamp(raw),
		Level:   level,
		Message: message,
	}
	for _, k := range slices.Sorted(maps.Keys(attributes)) {
		e.Attrs = append(e.Attrs, slog.String(k, attributes[k]))
	}
	if len(resource) > 0 {
		e.Tags = maps.Clone(resource)
	}
	return e
}

func parseOTELAttributes(value interface{}) map[string]string {
	out := map[string]string{}
	attributes, ok := value.([]interface{})
	if !ok {
		return out
	}

	for _, item := range attributes {
		attr, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key := ExtractStringField(attr, "key")
		if key == "" {
			continue
		}
		val := extractOTELAnyValue(attr["value"])
		if val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

func extractOTELBody(value interface{}) string {
	switch body := value.(type) {
	case string:
		return body
	case map[string]interface{}:
		return extractOTELAnyValue(body)
	default:
		return stringifyJSONValue(body)
	}
}

func extractOTELAnyValue(value interface{}) string {
	anyValue, ok := value.(map[string]interface{})
	if !ok {
		return stringifyJSONValue(value)
	}

	for _, key := range []string{"stringValue", "boolValue", "intValue", "doubleValue", "bytesValue"} {
		if val, ok := anyValue[key]; ok {
			return stringifyJSONValue(val)
		}
	}

	if arrayValue, ok := anyValue["arrayValue"].(map[string]interface{}); ok {
		if vals, ok := arrayValue["values"].([]interface{}); ok {
			parts := make([]string, 0, len(vals))
			for _, v := range vals {
				part := extractOTELAnyValue(v)
				if part == "" {
					continue
				}
				parts = append(parts, part)
			}
			return strings.Join(parts, ",")
		}
	}

	if kvListValue, ok := anyValue["kvlistValue"].(map[string]interface{}); ok {
		return stringifyJSONValue(kvListValue["values"])
	}

	return stringifyJSONValue(anyValue)
}

func extractOTELTimestamp(raw map[string]interface{}) time.Time {
	for _, key := range []string{"timeUnixNano", "observedTimeUnixNano"} {
		value, ok := raw[key]
		if !ok {
			continue
		}
		if ts, parsed := parseTimeUnixNano(value); parsed {
			return ts
		}
	}
	return time.Time{}
}

func parseTimeUnixNano(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return time.Unix(0, n), true
		}
	case float64:
		if v > 0 {
			return time.Unix(0, int64(v)), true
		}
	}
	return time.Time{}, false
}

func parseOTELSeverityNumber(value interface{}) int {
	switch v := value.(type) {
	case float64:
		if v <= 0 {
			return 0
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

func isOTELLogRecord(raw map[string]interface{}) bool {
	for _, key := range []string{
		"timeUnixNano",
		"observedTimeUnixNano",
		"severityNumber",
		"severityText",
		"traceId",
		"spanId",
		"droppedAttributesCount",
	} {
		if _, ok := raw[key]; ok {
			return true
		}
	}

	_, hasBody := raw["body"]
	_, hasAttrs := raw["attributes"]
	return hasBody && hasAttrs
}

func stringifyJSONValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(value)
}

func sanitizeLogMessage(message string) string {
	clean := strings.ReplaceAll(message, "\t", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	return clean
}

// ExtractStringField returns the first non-empty string value found among the given keys.
func ExtractStringField(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if str := stringifyJSONValue(v); str != "" {
				return str
			}
		}
	}
	return ""
}
