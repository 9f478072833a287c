package cli

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// stringKeyPrefix marks a key given as text rather than a number.
const stringKeyPrefix = "s:"

// parseKey turns user input into a store key.
//
// "42" is the key 42. "s:alice" is the xxhash of "alice" with the sign bit
// cleared, so any text maps to a positive key. Distinct strings can collide;
// the store only sees the number.
func parseKey(s string) (int64, error) {
	if s == "" {
		return 0, ErrKeyRequired
	}

	if text, ok := strings.CutPrefix(s, stringKeyPrefix); ok {
		if text == "" {
			return 0, fmt.Errorf("%w: %q: empty string after %q", ErrInvalidKey, s, stringKeyPrefix)
		}

		return hashKey(text), nil
	}

	key, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: use a positive integer or %s<text>", ErrInvalidKey, s, stringKeyPrefix)
	}

	if key <= 0 {
		return 0, fmt.Errorf("%w: %d: keys must be positive", ErrInvalidKey, key)
	}

	return key, nil
}

func hashKey(text string) int64 {
	key := int64(xxhash.Sum64String(text) & math.MaxInt64)
	if key == 0 {
		return 1
	}

	return key
}

// formatValue renders a value for terminal output: as-is when it is
// printable UTF-8, hex otherwise.
func formatValue(v []byte, forceHex bool) string {
	if forceHex || !printable(v) {
		return "0x" + hex.EncodeToString(v)
	}

	return string(v)
}

func printable(v []byte) bool {
	if !utf8.Valid(v) {
		return false
	}

	for _, r := range string(v) {
		if r < 0x20 && r != '\t' {
			return false
		}
	}

	return true
}

// parseValue accepts "0x..." as hex and anything else as raw text.
func parseValue(s string) ([]byte, error) {
	if h, ok := strings.CutPrefix(s, "0x"); ok {
		v, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}

		return v, nil
	}

	return []byte(s), nil
}
