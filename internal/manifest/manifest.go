// Package manifest extracts the pinned package-manager revision from a
// project manifest such as vcpkg.json.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// BaselineKey is the vcpkg.json field holding the pinned registry commit
const BaselineKey = "builtin-baseline"

// ReadRevision reads the manifest at path and returns the string stored under key.
func ReadRevision(path, key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	rev, err := ParseRevision(data, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return rev, nil
}

// ParseRevision decodes a JSON document (comments and trailing commas are
// tolerated) and returns the non-empty string under key.
func ParseRevision(data []byte, key string) (string, error) {
	if key == "" {
		key = BaselineKey
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}

	raw, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("manifest has no %q field", key)
	}

	var rev string
	if err := json.Unmarshal(raw, &rev); err != nil {
		return "", fmt.Errorf("manifest field %q must be a string: %w", key, err)
	}

	rev = strings.TrimSpace(rev)
	if rev == "" {
		return "", fmt.Errorf("manifest field %q is empty", key)
	}
	return rev, nil
}
