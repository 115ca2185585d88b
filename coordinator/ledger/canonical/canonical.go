// Package canonical implements the deterministic JSON form used for ledger
// hashing: object keys sorted lexicographically, no insignificant
// whitespace, numbers in shortest round-trip form. Two values that compare
// equal after parsing always canonicalise to identical bytes, so the same
// payload hashes to the same chain link on every coordinator.
package canonical

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Marshal serialises v into canonical JSON.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites any valid JSON document into canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "invalid json")
	}
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func write(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case json.Number:
		return writeNumber(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := write(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("unsupported json value of type %T", v)
	}
	return nil
}

// writeNumber emits the shortest round-trip form. Integers that fit 64
// bits keep exact decimal form; everything else goes through the float64
// encoder, which produces the shortest representation that parses back to
// the same value.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatUint(u, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return errors.Wrapf(err, "unrepresentable number %q", s)
	}
	enc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(enc)
	return nil
}
