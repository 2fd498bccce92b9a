// Package canonical provides deterministic JSON serialization and the
// null-byte separated transaction hash used by the ledger.
//
// Hash scheme versions:
//
//	v1: colon-delimited   prev:project:action:detail:ts
//	v2: null-byte canon   prev\x00project\x00action\x00detail\x00ts
//
// v2 removes field-boundary ambiguity: a colon inside any field can shift
// content between fields under v1, so v2 separates with \x00 and the input
// guard rejects \x00 inside fields.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// HashVersion is the current transaction hash scheme.
const HashVersion = 2

// Genesis is the prev_hash sentinel of the first ledger transaction.
const Genesis = "GENESIS"

// JSON serializes obj deterministically: keys sorted at every depth, no
// insignificant whitespace, non-ASCII escaped. Two semantically equal values
// produce identical output regardless of map iteration order.
func JSON(obj any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, obj); err != nil {
		return "", err
	}
	return b.String(), nil
}

// MustJSON is JSON for values known to be serializable; unserializable
// values are rendered through their string representation, matching the
// tolerant behavior expected of ledger detail payloads.
func MustJSON(obj any) string {
	s, err := JSON(obj)
	if err != nil {
		return encodeString(fmt.Sprintf("%v", obj))
	}
	return s
}

func writeCanonical(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		b.WriteString(encodeString(x))
	case json.Number:
		b.WriteString(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite number %v", x)
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			b.WriteString(strconv.FormatInt(int64(x), 10))
		} else {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
	case float32:
		return writeCanonical(b, float64(x))
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(encodeString(e))
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(encodeString(k))
			b.WriteByte(':')
			if err := writeCanonical(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		// Round-trip through encoding/json so structs and typed maps
		// reduce to the shapes handled above.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return err
		}
		return writeCanonical(b, generic)
	}
	return nil
}

// encodeString emits an ASCII-safe JSON string literal.
func encodeString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r > 0x7e {
				if r > 0xffff {
					r1, r2 := utf16Pair(r)
					fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
				} else {
					fmt.Fprintf(&b, `\u%04x`, r)
				}
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func utf16Pair(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r >> 10), 0xdc00 + (r & 0x3ff)
}

// TxHash computes the v2 transaction hash: the five fields joined by a
// single \x00 byte, SHA-256 over the UTF-8 bytes, hex encoded.
func TxHash(prevHash, project, action, detailJSON, timestamp string) string {
	var b strings.Builder
	b.WriteString(prevHash)
	b.WriteByte(0)
	b.WriteString(project)
	b.WriteByte(0)
	b.WriteString(action)
	b.WriteByte(0)
	b.WriteString(detailJSON)
	b.WriteByte(0)
	b.WriteString(timestamp)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// TxHashV1 computes the legacy colon-delimited hash. Kept for verifying
// chains written before the canonical hash migration.
func TxHashV1(prevHash, project, action, detailJSON, timestamp string) string {
	input := prevHash + ":" + project + ":" + action + ":" + detailJSON + ":" + timestamp
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashPair combines two child hashes into a Merkle parent hash.
func HashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes normalized content (lowercased, whitespace collapsed)
// for duplicate detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(sum[:])
}

// NormalizeContent lowercases and collapses all whitespace runs to single
// spaces.
func NormalizeContent(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
