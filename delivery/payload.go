package delivery

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Limits bounds the string payload handed to the transport. Sizes are
// measured in bytes of key plus value.
type Limits struct {
	// MaxValueBytes caps each individual value.
	MaxValueBytes int
	// MaxPayloadBytes caps the sum of len(key)+len(value) over all entries.
	MaxPayloadBytes int
}

// DefaultLimits leaves headroom for title, body and platform fields inside
// the provider's 4 KiB message budget.
func DefaultLimits() Limits {
	return Limits{MaxValueBytes: 1024, MaxPayloadBytes: 3072}
}

// BoundPayload coerces data to strings and truncates it to l.
//
// Keys are visited in lexicographic order, so truncation always favors
// earlier keys: once the aggregate budget cannot hold a key and at least one
// byte of its value, that key and every later key are dropped. A value that
// only partly fits is cut to the remaining budget. Cuts never split a UTF-8
// sequence.
func BoundPayload(data map[string]any, l Limits) map[string]string {
	if len(data) == 0 {
		return map[string]string{}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	remaining := l.MaxPayloadBytes
	for _, k := range keys {
		if l.MaxPayloadBytes > 0 && len(k) >= remaining {
			break
		}
		v := stringify(data[k])
		if l.MaxValueBytes > 0 {
			v = truncateUTF8(v, l.MaxValueBytes)
		}
		if l.MaxPayloadBytes > 0 {
			v = truncateUTF8(v, remaining-len(k))
			remaining -= len(k) + len(v)
		}
		out[k] = v
	}
	return out
}

// PayloadSize returns the aggregate size BoundPayload budgets against.
func PayloadSize(data map[string]string) int {
	n := 0
	for k, v := range data {
		n += len(k) + len(v)
	}
	return n
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
