// Package ids generates the two identifier families of the engine:
// random 256-bit change IDs and content-derived operation IDs.
//
// Change IDs are assigned once at change creation and never rewritten.
// Operation IDs are a SHA-256 over the operation's parents, timestamp,
// user, kind and canonicalised payload, so the same logical operation
// always hashes to the same ID.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// HexLen is the length of a full identifier in lowercase hex characters.
const HexLen = 64

// ShortLen is the length of the abbreviated form used in ref names.
const ShortLen = 12

// NewChangeID returns 32 cryptographically random bytes as lowercase hex.
// Collisions are astronomically unlikely; prefix uniqueness is not
// guaranteed and callers resolving prefixes must handle ambiguity.
func NewChangeID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// OperationID computes the content-derived ID of an operation.
// The hash input is parents (in order), the millisecond timestamp, the
// user, the operation kind and the canonical JSON of the payload.
func OperationID(parents []string, timestampMS int64, user, kind string, payload map[string]any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise payload: %w", err)
	}

	h := sha256.New()
	for _, p := range parents {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.FormatInt(timestampMS, 10)))
	h.Write([]byte{0})
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSON encodes v as UTF-8 JSON with object keys sorted and no
// insignificant whitespace. Floats are rejected unless they are integral,
// matching the metadata file rules (timestamps are integer milliseconds).
func CanonicalJSON(v any) ([]byte, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(enc)
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		b.WriteString(val.String())
	case float64:
		if val != float64(int64(val)) {
			return fmt.Errorf("non-integer number %v not allowed in canonical payload", val)
		}
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		// Fall back to a marshal/unmarshal round trip so struct payloads
		// and json.RawMessage land in the map/slice cases above.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("unsupported payload value %T: %w", val, err)
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

// Short abbreviates a full identifier to its ref-name prefix.
func Short(id string) string {
	if len(id) <= ShortLen {
		return id
	}
	return id[:ShortLen]
}

// IsHex reports whether s is a plausible (possibly abbreviated) hex id.
func IsHex(s string) bool {
	if s == "" || len(s) > HexLen {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
