package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/provenworks/sopctl/pkg/models"
)

// initialVersionString is assigned to the first draft of a new document.
const initialVersionString = "v0.1"

// promotedVersionString is what a v0.x version becomes on its first
// Publish. This is the only event that rewrites a version string.
const promotedVersionString = "v1.0"

// parseVersionString splits a "v<major>.<minor>" string.
func parseVersionString(s string) (major, minor int, err error) {
	trimmed := strings.TrimPrefix(s, "v")
	parts := strings.Split(trimmed, ".")
	if len(parts) != 2 || trimmed == s {
		return 0, 0, fmt.Errorf("malformed version string: %q", s)
	}
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("malformed version string: %q", s)
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("malformed version string: %q", s)
	}
	if major < 0 || minor < 0 {
		return 0, 0, fmt.Errorf("malformed version string: %q", s)
	}
	return major, minor, nil
}

func formatVersionString(major, minor int) string {
	return fmt.Sprintf("v%d.%d", major, minor)
}

// bumpVersionString computes a successor's version string from its
// parent's. Minor increments the minor component; Major increments the
// major and resets minor to zero.
func bumpVersionString(parent string, ct models.ChangeType) (string, error) {
	major, minor, err := parseVersionString(parent)
	if err != nil {
		return "", err
	}
	switch ct {
	case models.ChangeMinor:
		return formatVersionString(major, minor+1), nil
	case models.ChangeMajor:
		return formatVersionString(major+1, 0), nil
	default:
		return "", fmt.Errorf("unknown change type: %q", ct)
	}
}

// isPrePromotion reports whether the version string has never been
// through a first Publish (major component zero).
func isPrePromotion(s string) bool {
	major, _, err := parseVersionString(s)
	return err == nil && major == 0
}
