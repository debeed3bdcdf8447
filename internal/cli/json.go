package cli

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// keys (with their colon), strings, literals and numbers
var jsonToken = regexp.MustCompile(`"(?:\\u[a-fA-F0-9]{4}|\\[^u]|[^\\"])*"(?:\s*:)?|\b(?:true|false|null)\b|-?\d+(?:\.\d*)?(?:[eE][+\-]?\d+)?`)

// alertKeys have their values rendered in red: failures should stand out in seed output and logs.
var alertKeys = map[string]bool{
	"error":      true,
	"error_kind": true,
	"detail":     true,
}

// HighlightJSON colours the tokens of a JSON document, minified or indented. Values of error
// fields are red regardless of their type.
func HighlightJSON(doc string) string {
	if !Enabled() {
		return doc
	}

	var b strings.Builder
	b.Grow(len(doc) * 2)

	last := 0
	alert := false
	for _, loc := range jsonToken.FindAllStringIndex(doc, -1) {
		b.WriteString(doc[last:loc[0]])
		token := doc[loc[0]:loc[1]]
		last = loc[1]

		if strings.HasSuffix(token, ":") {
			key := strings.TrimRight(token[:len(token)-1], " \t")
			alert = alertKeys[strings.Trim(key, `"`)]
			b.WriteString(Stylize(key, Blue))
			b.WriteByte(':')
			continue
		}

		b.WriteString(Stylize(token, valueColor(token, alert)))
		alert = false
	}
	b.WriteString(doc[last:])
	return b.String()
}

func valueColor(token string, alert bool) string {
	switch {
	case alert:
		return Red
	case strings.HasPrefix(token, `"`):
		return Green
	case token == "true" || token == "false":
		return Yellow
	case token == "null":
		return DimCode
	default:
		return Purple
	}
}

// PrettyFormat renders v as indented, highlighted JSON. Strings and byte slices are taken to be
// JSON already.
func PrettyFormat(v any) string {
	var doc string
	switch t := v.(type) {
	case []byte:
		doc = string(t)
	case string:
		doc = t
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%+v", v)
		}
		doc = string(b)
	}
	return HighlightJSON(doc)
}
