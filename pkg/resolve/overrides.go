package resolve

import (
	"fmt"
	"strings"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Fields lists every canonical field.
var Fields = []Field{FieldEntity, FieldTimestamp, FieldKind, FieldSecondary, FieldScope, FieldReference}

// ParseField parses a field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", svcerr.InvalidParams(fmt.Sprintf("unknown field %q", s)).
		WithContext("fields", Fields)
}

// ParseOverrides parses "field=column" pairs. Column names keep their
// spacing apart from surrounding whitespace.
func ParseOverrides(pairs []string) (map[Field]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[Field]string, len(pairs))
	for _, pair := range pairs {
		name, column, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(column) == "" {
			return nil, svcerr.InvalidParams(fmt.Sprintf("column mapping must be field=column, got %q", pair))
		}
		f, err := ParseField(name)
		if err != nil {
			return nil, err
		}
		out[f] = strings.TrimSpace(column)
	}
	return out, nil
}
