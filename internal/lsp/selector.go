package lsp

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Document URI schemes.
const (
	SchemeFile           = "file"
	SchemeUntitled       = "untitled"
	SchemeVSCodeUserData = "vscode-userdata"
)

// DocumentFilter selects documents by language, URI scheme, and path glob.
// Empty fields match anything. Pattern uses slash-separated globs where
// "**" matches any number of path segments.
type DocumentFilter struct {
	Language string `json:"language,omitempty"`
	Scheme   string `json:"scheme,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// Selector is a set of filters; a document matches when any filter does.
type Selector []DocumentFilter

// ProjectSelector scopes a session to SQL files under root.
func ProjectSelector(root, language string) Selector {
	pattern := strings.TrimSuffix(filepath.ToSlash(root), "/") + "/**/*"
	return Selector{{Language: language, Scheme: SchemeFile, Pattern: pattern}}
}

// UnsavedSelector scopes a session to documents that do not live in a
// project: unsaved buffers and editor user data.
func UnsavedSelector(language string) Selector {
	return Selector{
		{Language: language, Scheme: SchemeUntitled},
		{Language: language, Scheme: SchemeVSCodeUserData},
	}
}

// Matches reports whether the document at uri with languageID is selected.
func (s Selector) Matches(uri DocumentURI, languageID string) bool {
	for _, f := range s {
		if f.Matches(uri, languageID) {
			return true
		}
	}
	return false
}

// DocumentURIFor returns ref unchanged when it already names a URI scheme,
// and the file URI of ref otherwise.
func DocumentURIFor(ref string) DocumentURI {
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 1 {
		return DocumentURI(ref)
	}
	return FilePathToURI(ref)
}

// Matches reports whether the filter selects the document.
func (f DocumentFilter) Matches(uri DocumentURI, languageID string) bool {
	if f.Language != "" && f.Language != languageID {
		return false
	}

	u, err := url.Parse(string(uri))
	if err != nil {
		return false
	}
	if f.Scheme != "" && f.Scheme != u.Scheme {
		return false
	}
	if f.Pattern == "" {
		return true
	}

	p := u.Path
	if u.Scheme == SchemeFile {
		p = filepath.ToSlash(URIToFilePath(uri))
	}
	return MatchGlob(f.Pattern, p)
}

// MatchGlob matches a slash-separated name against pattern, where "**"
// spans zero or more segments and other segments use path.Match syntax.
func MatchGlob(pattern, name string) bool {
	return matchSegments(splitSlash(pattern), splitSlash(name))
}

func splitSlash(s string) []string {
	return strings.Split(strings.Trim(s, "/"), "/")
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
