/*
Logic:       Per-format JSON extraction, schema validation, and a
             blog-only repair pass, ported from
             content_creation_crew/content_validator.py's
             extract-then-validate-then-repair pipeline (regex-driven
             text surgery, not a full JSON-schema library, matching
             the original's own approach).
*/

package runner

import (
	"encoding/json"
	"regexp"
	"strings"
)

// formatSchema describes the top-level keys a format's JSON payload
// must carry. Validation here is presence/type checking against this
// table, not a general-purpose JSON-schema evaluator — the same scope
// content_validator.py's Pydantic models covered.
type formatSchema struct {
	required []string
}

var formatSchemas = map[string]formatSchema{
	"blog":   {required: []string{"title", "body"}},
	"social": {required: []string{"platform", "post"}},
	"audio":  {required: []string{"script"}},
	"video":  {required: []string{"scenes"}},
}

var (
	codeFenceOpen  = regexp.MustCompile("```json\\s*")
	codeFenceClose = regexp.MustCompile("```\\s*$")
	trailingComma1 = regexp.MustCompile(`,(\s*)}`)
	trailingComma2 = regexp.MustCompile(`,(\s*)]`)
	unquotedKey    = regexp.MustCompile(`([{,]\s*)(\w+)(\s*:)`)
	singleQuotedKV = regexp.MustCompile(`'([^']*)'\s*:`)
)

// extractJSONObject strips markdown code fences and returns the
// {...} span most likely to be the model's JSON payload, falling back
// to the trimmed raw text if no object boundaries are found.
func extractJSONObject(raw string) string {
	text := codeFenceClose.ReplaceAllString(codeFenceOpen.ReplaceAllString(raw, ""), "")
	text = strings.TrimSpace(text)

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		return text[first : last+1]
	}
	return text
}

// validateSchema reports whether payload is a JSON object carrying
// every key format's schema requires, with a non-empty value. Formats
// with no registered schema always validate (media formats extracted
// by the sub-runners, not this pipeline).
func validateSchema(format, payload string) bool {
	s, ok := formatSchemas[format]
	if !ok {
		return true
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return false
	}

	for _, key := range s.required {
		v, present := obj[key]
		if !present || v == nil {
			return false
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) == "" {
				return false
			}
		case []interface{}:
			if len(val) == 0 {
				return false
			}
		}
	}
	return true
}

// repairJSON rewrites the malformed-JSON patterns a model output
// commonly produces — trailing commas, unquoted keys, single-quoted
// keys — the same fixes content_validator.py's repair_json applies.
// Blog is the only format allowed to use this, per spec step 7c.
func repairJSON(payload string) string {
	repaired := trailingComma1.ReplaceAllString(payload, "$1}")
	repaired = trailingComma2.ReplaceAllString(repaired, "$1]")
	repaired = unquotedKey.ReplaceAllString(repaired, `$1"$2"$3`)
	repaired = singleQuotedKV.ReplaceAllString(repaired, `"$1":`)
	return repaired
}

// extractFormat pulls the format's JSON payload out of the raw model
// response, validates it against formatSchemas, and — blog only —
// retries once through repairJSON before giving up and passing the
// raw text through unvalidated. Formats with no schema fall back to a
// trimmed passthrough.
func extractFormat(format, raw string) string {
	if _, ok := formatSchemas[format]; !ok {
		return strings.TrimSpace(raw)
	}

	candidate := extractJSONObject(raw)
	if validateSchema(format, candidate) {
		return candidate
	}

	if format == "blog" {
		if repaired := repairJSON(candidate); validateSchema(format, repaired) {
			return repaired
		}
	}

	return strings.TrimSpace(raw)
}
