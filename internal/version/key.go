// Package version encodes semantic versions so that lexical order
// matches semver order, letting a store's native sort double as
// version order.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// PadWidth is the zero-pad width applied to each numeric component.
// Components wider than this keep their full width, which preserves
// ordering only below 10^PadWidth.
const PadWidth = 3

// canonical normalizes raw to the "v"-prefixed form x/mod/semver expects.
func canonical(raw string) string {
	return "v" + strings.TrimPrefix(strings.TrimSpace(raw), "v")
}

// Valid reports whether raw is a parseable semantic version.
func Valid(raw string) bool {
	return semver.IsValid(canonical(raw))
}

// Compare orders two semantic versions, ignoring any "v" prefix.
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// Key returns the zero-padded encoding of a semantic version: numeric
// components padded to PadWidth digits, pre-release and build metadata
// appended unpadded. For valid versions a < b implies Key(a) < Key(b)
// under lexical comparison.
func Key(raw string) (string, error) {
	v := canonical(raw)
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid semantic version %q", raw)
	}
	pre := semver.Prerelease(v)
	build := semver.Build(v)
	core := strings.TrimPrefix(semver.Canonical(v), "v")
	core = strings.TrimSuffix(core, pre)

	parts := strings.SplitN(core, ".", 3)
	padded := make([]string, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid version component %q in %q", p, raw)
		}
		padded[i] = fmt.Sprintf("%0*d", PadWidth, n)
	}
	return strings.Join(padded, ".") + pre + build, nil
}
