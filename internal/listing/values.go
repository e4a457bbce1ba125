package listing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Text decodes a JSON string, number or null into a trimmed string.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	*t = Text(string(b))
	return nil
}

func (t Text) String() string { return string(t) }

// Decimal decodes a JSON number or a numeric string. Strings containing a
// comma are read in Brazilian notation ("1.234,56").
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	var t Text
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*d = Decimal(ParseDecimal(string(t)))
	return nil
}

// ParseDecimal reads a number in either notation. Unparseable input is 0.
func ParseDecimal(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Flag decodes booleans sent as true/false, 0/1 or "S"/"N".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var t Text
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(string(t)) {
	case "true", "1", "s", "sim", "y", "yes", "ativo":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Ptr returns nil for zero so absent amounts stay NULL.
func (d *Decimal) Ptr() *float64 {
	if d == nil || *d == 0 {
		return nil
	}
	v := float64(*d)
	return &v
}
