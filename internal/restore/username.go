package restore

import "strings"

const linkMarker = "locket.cam/"

// NormalizeUsername turns user input into a lookup name. A share link
// such as https://locket.cam/alice?x=1 yields "alice"; a leading "@" and
// surrounding space are dropped.
func NormalizeUsername(input string) string {
	s := strings.TrimSpace(input)
	if i := strings.LastIndex(s, linkMarker); i >= 0 {
		s = s[i+len(linkMarker):]
		if j := strings.IndexAny(s, "?#/"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
