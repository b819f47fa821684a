package aster

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Params are the endpoint parameters of a signed request. Every value is a
// string; a key that is present is signed and sent, even with an empty value.
type Params map[string]string

// Set stores v under k. An empty value removes the key, which is how optional
// fields stay off the wire; assign p[k] = "" to sign an explicit empty string.
func (p Params) Set(k, v string) Params {
	if v == "" {
		delete(p, k)
		return p
	}
	p[k] = v
	return p
}

// SetFloat stores f in plain decimal notation without exponent.
func (p Params) SetFloat(k string, f float64) Params {
	return p.Set(k, formatFloat(f))
}

func (p Params) SetInt(k string, n int64) Params {
	return p.Set(k, strconv.FormatInt(n, 10))
}

func (p Params) SetBool(k string, b bool) Params {
	return p.Set(k, strconv.FormatBool(b))
}

func (p Params) clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Serialize renders params as compact JSON with keys in byte order. The output
// matches JSON.stringify over an object whose keys were inserted sorted, so
// the exchange reproduces it exactly. An empty set renders as {}.
func Serialize(p map[string]string) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(&b, k)
		b.WriteByte(':')
		writeJSONString(&b, p[k])
	}
	b.WriteByte('}')
	return b.String()
}

const hexDigits = "0123456789abcdef"

// writeJSONString quotes s the way JSON.stringify does: only the quote,
// backslash and C0 control characters are escaped; HTML characters and
// non-ASCII text pass through untouched.
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}

func formatFloat(f float64) string {
	return decimal.NewFromFloat(f).String()
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
