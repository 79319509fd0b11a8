// Package testutil generates fuzzed fixtures for the storage engine's
// own tests: primary keys, row payloads, and column value sets sized to
// the fixed-width slots the node and row layouts expect.
package testutil

import (
	"crypto/rand"

	fuzz "github.com/google/gofuzz"
)

var f = fuzz.New()

// RandomColumnValues returns a set of distinct single-byte column
// values, useful for seeding secondary-index duplicate-key fixtures.
func RandomColumnValues(size int) map[byte]struct{} {
	values := map[byte]struct{}{}

	for len(values) < size {
		var b [1]byte
		rand.Read(b[:])
		values[b[0]] = struct{}{}
	}

	return values
}

// RandomByteArray returns size random bytes, sized to match a
// fixed-width key or row-payload slot in the caller's test.
func RandomByteArray(size int) []byte {
	arr := make([]byte, size)
	rand.Read(arr)
	return arr
}

// RandomPrimaryKey returns a random 4-byte little-endian primary key
// candidate, matching the node layout's key_payload width.
func RandomPrimaryKey() []byte {
	return RandomByteArray(4)
}

// RandomRowPayload returns size random bytes standing in for a row's
// body, independent of its primary key.
func RandomRowPayload(size int) []byte {
	return RandomByteArray(size)
}

// RandomNames returns count distinct fuzzed strings, useful as
// secondary-index column values when a test wants variable-width
// duplicates instead of single bytes.
func RandomNames(count int) []string {
	names := make([]string, 0, count)
	seen := map[string]struct{}{}

	for len(names) < count {
		var name string
		f.Fuzz(&name)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}
