package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a client version of the form "MAJOR.MINOR[-tag]". The tag is
// arbitrary and does not participate in ordering.
type Version struct {
	Major int
	Minor int
	Tag   string
}

// ParseVersion parses "MAJOR.MINOR" with an optional "-tag" suffix.
func ParseVersion(raw string) (Version, error) {
	var v Version
	numeric := raw
	if prefix, suffix, found := strings.Cut(raw, "-"); found {
		numeric = prefix
		v.Tag = suffix
	}

	major, minor, found := strings.Cut(numeric, ".")
	if !found {
		return Version{}, fmt.Errorf("version '%s' is not in MAJOR.MINOR form", raw)
	}
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return Version{}, fmt.Errorf("version '%s' has an invalid major component", raw)
	}
	if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
		return Version{}, fmt.Errorf("version '%s' has an invalid minor component", raw)
	}
	return v, nil
}

// Less orders versions lexicographically by (major, minor).
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

func (v Version) String() string {
	if v.Tag != "" {
		return fmt.Sprintf("%d.%d-%s", v.Major, v.Minor, v.Tag)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
