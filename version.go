package pyharbor

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a semantic version with major, minor and patch components.
// Minor and Patch are -1 when unspecified ("3" parses as {3, -1, -1}).
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "X.Y.Z", "X.Y" or "X". Anything after the third
// component (pre-release tags, build metadata) is ignored.
func ParseVersion(s string) (Version, error) {
	v := Version{Minor: -1, Patch: -1}
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}

	parts := strings.SplitN(s, ".", 3)
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, part := range parts {
		// stop at the first non-numeric run ("0-beta" -> 0)
		digits := part
		for j, r := range part {
			if r < '0' || r > '9' {
				digits = part[:j]
				break
			}
		}
		if digits == "" {
			if i == 0 {
				return Version{}, fmt.Errorf("invalid version: %q", s)
			}
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version: %q", s)
		}
		*fields[i] = n
	}
	if v.Major < 0 {
		return Version{}, fmt.Errorf("invalid version: %q", s)
	}
	return v, nil
}

// ParseInterpreterVersion parses "python --version" output ("Python 3.10.5").
func ParseInterpreterVersion(s string) (Version, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 || fields[0] != "Python" {
		return Version{}, fmt.Errorf("unrecognized interpreter version output: %q", s)
	}
	return ParseVersion(fields[1])
}

// ParsePipVersion parses "pip --version" output ("pip 23.0 from ...").
func ParsePipVersion(s string) (Version, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "pip") {
		return Version{}, fmt.Errorf("unrecognized pip version output: %q", s)
	}
	return ParseVersion(fields[1])
}

// ParseCondaVersion parses "conda --version" output ("conda 23.1.0").
func ParseCondaVersion(s string) (Version, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 || !strings.Contains(fields[0], "conda") {
		return Version{}, fmt.Errorf("unrecognized conda version output: %q", s)
	}
	return ParseVersion(fields[1])
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other.
func (v Version) Compare(other Version) int {
	pairs := [3][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}}
	for _, p := range pairs {
		if p[0] > p[1] {
			return 1
		}
		if p[0] < p[1] {
			return -1
		}
	}
	return 0
}

// IsZero reports whether the version carries no information.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// String renders the version, omitting unspecified components.
func (v Version) String() string {
	if v.Patch != -1 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != -1 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return strconv.Itoa(v.Major)
}

// MinorString renders "major.minor", used for interpreter paths like
// "python3.10" and "lib/python3.10/site-packages".
func (v Version) MinorString() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
