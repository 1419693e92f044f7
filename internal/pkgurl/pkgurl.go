// Package pkgurl normalizes package repository URLs and extracts the
// owner/name pair used to address packages in routes.
package pkgurl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

var repoURLPattern = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`)

var repoURLReplacer = strings.NewReplacer(
	"git@github.com:", "https://github.com/",
	"git://github.com/", "https://github.com/",
	"http://github.com/", "https://github.com/",
	"https://www.github.com/", "https://github.com/",
)

// Normalize converts git@, git://, git+ and http forms to canonical https form
// and removes the .git suffix and trailing slashes.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "git+")
	s = repoURLReplacer.Replace(s)
	s = strings.TrimRight(s, "/")
	return strings.TrimSuffix(s, ".git")
}

// Split normalizes raw and returns the canonical URL with its owner and name.
func Split(raw string) (url, owner, name string, err error) {
	url = Normalize(raw)
	m := repoURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid package url %q", raw))
	}
	return url, m[1], m[2], nil
}

// Key is the case-insensitive lookup key for an owner/name pair.
func Key(owner, name string) string {
	return strings.ToLower(owner) + "/" + strings.ToLower(name)
}
