package serving

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"churn-service/internal/dataset"
	"churn-service/internal/features"
)

type fieldType uint8

func (t fieldType) String() string {
	if t == fieldText {
		return "string"
	}
	return "number"
}

const (
	fieldNumber fieldType = iota
	fieldText
)

type field struct {
	name string
	typ  fieldType
}

// requestSchema lists the fields every prediction request must carry, in the
// column order of the training CSV.
var requestSchema = []field{
	{"accountlength", fieldNumber},
	{"internationalplan", fieldText},
	{"voicemailplan", fieldText},
	{"numbervmailmessages", fieldNumber},
	{"totaldayminutes", fieldNumber},
	{"totaldaycalls", fieldNumber},
	{"totaldaycharge", fieldNumber},
	{"totaleveminutes", fieldNumber},
	{"totalevecalls", fieldNumber},
	{"totalevecharge", fieldNumber},
	{"totalnightminutes", fieldNumber},
	{"totalnightcalls", fieldNumber},
	{"totalnightcharge", fieldNumber},
	{"totalintlminutes", fieldNumber},
	{"totalintlcalls", fieldNumber},
	{"totalintlcharge", fieldNumber},
	{"numbercustomerservicecalls", fieldNumber},
}

// SchemaFields returns the request field names in schema order.
func SchemaFields() []string {
	out := make([]string, len(requestSchema))
	for i, f := range requestSchema {
		out[i] = f.name
	}
	return out
}

// toRecord validates a decoded JSON object against requestSchema. Keys are matched
// after name normalization; unknown keys are ignored.
func toRecord(payload map[string]any) (dataset.Record, error) {
	if payload == nil {
		return dataset.Record{}, &ValidationError{Field: "body", Reason: "request body must be a JSON object"}
	}
	normalized := make(map[string]any, len(payload))
	for k, v := range payload {
		normalized[dataset.NormalizeName(k)] = v
	}

	rec := dataset.Record{
		Columns: make([]string, 0, len(requestSchema)),
		Values:  make([]dataset.Value, 0, len(requestSchema)),
	}
	for _, f := range requestSchema {
		raw, ok := normalized[f.name]
		if !ok || raw == nil {
			return dataset.Record{}, &ValidationError{Field: f.name, Reason: "field required"}
		}
		var (
			v   dataset.Value
			err error
		)
		switch f.typ {
		case fieldNumber:
			v, err = coerceNumber(raw)
		case fieldText:
			v, err = coerceText(raw)
		}
		if err != nil {
			return dataset.Record{}, &ValidationError{Field: f.name, Reason: err.Error()}
		}
		rec.Columns = append(rec.Columns, f.name)
		rec.Values = append(rec.Values, v)
	}
	return rec, nil
}

func coerceNumber(raw any) (dataset.Value, error) {
	var x float64
	switch t := raw.(type) {
	case float64:
		x = t
	case int:
		x = float64(t)
	case int64:
		x = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return dataset.Value{}, errors.New("value is not a valid number")
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return dataset.Value{}, errors.New("value is not a valid number")
		}
		x = f
	default:
		return dataset.Value{}, fmt.Errorf("value must be a number, got %T", raw)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return dataset.Value{}, errors.New("value must be finite")
	}
	return dataset.Number(x), nil
}

func coerceText(raw any) (dataset.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return dataset.Value{}, fmt.Errorf("value must be a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return dataset.Value{}, errors.New("value must not be empty")
	}
	return dataset.Text(s), nil
}

// checkSchemaCovers rejects a transform state whose input columns the request
// schema cannot supply, by name or by kind. Numeric columns need a number field;
// binary and categorical columns need a text field.
func checkSchemaCovers(columns []features.ColumnSpec) error {
	known := make(map[string]fieldType, len(requestSchema))
	for _, f := range requestSchema {
		known[f.name] = f.typ
	}
	for _, c := range columns {
		typ, ok := known[dataset.NormalizeName(c.Name)]
		if !ok {
			return &features.SchemaError{Column: c.Name, Reason: "not part of the request schema"}
		}
		want := fieldText
		if c.Kind == features.KindNumeric {
			want = fieldNumber
		}
		if typ != want {
			return &features.SchemaError{
				Column: c.Name,
				Reason: fmt.Sprintf("fitted as %s but requests carry a %s", c.Kind, typ),
			}
		}
	}
	return nil
}
