package workspace

import "encoding/json"

// FileKind classifies a path for the worker.
type FileKind string

const (
	FileKindConfig      FileKind = "Config"
	FileKindIgnore      FileKind = "Ignore"
	FileKindInspectable FileKind = "Inspectable"
	FileKindHandleable  FileKind = "Handleable"
)

// Path identifies a file in worker requests.
type Path struct {
	Path       string     `json:"path"`
	Kind       []FileKind `json:"kind"`
	WasWritten bool       `json:"was_written"`
}

// NewPath returns a handleable path with no special kind.
func NewPath(p string) Path {
	return Path{Path: p, Kind: []FileKind{}}
}

// TextSize is a byte offset into a document.
type TextSize = uint32

// TextRange is a half-open [start, end) byte range.
type TextRange [2]TextSize

// RuleCategory selects a family of diagnostics.
type RuleCategory string

const (
	RuleCategoryLint           RuleCategory = "Lint"
	RuleCategoryAction         RuleCategory = "Action"
	RuleCategoryTransformation RuleCategory = "Transformation"
)

// DefaultMaxDiagnostics bounds PullDiagnostics when the caller sets no limit.
const DefaultMaxDiagnostics = 100

type IsPathIgnoredParams struct {
	PgtPath Path `json:"pgt_path"`
}

type GetFileContentParams struct {
	Path Path `json:"path"`
}

// PullDiagnosticsParams requests the diagnostics of one file.
type PullDiagnosticsParams struct {
	Categories     []RuleCategory `json:"categories"`
	MaxDiagnostics uint32         `json:"max_diagnostics"`
	Only           []string       `json:"only"`
	Skip           []string       `json:"skip"`
	Path           Path           `json:"path"`
}

type PullDiagnosticsResult struct {
	Diagnostics        []Diagnostic `json:"diagnostics"`
	Errors             int          `json:"errors"`
	SkippedDiagnostics int          `json:"skipped_diagnostics"`
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityHint        Severity = "hint"
	SeverityInformation Severity = "information"
	SeverityWarning     Severity = "warning"
	SeverityError       Severity = "error"
	SeverityFatal       Severity = "fatal"
)

// Diagnostic is a single finding reported by the worker. Advice trees are
// kept raw; callers that render them decode what they need.
type Diagnostic struct {
	Category       string          `json:"category,omitempty"`
	Description    string          `json:"description"`
	Severity       Severity        `json:"severity"`
	Message        []MarkupNode    `json:"message"`
	Location       Location        `json:"location"`
	Tags           []string        `json:"tags"`
	Advices        json.RawMessage `json:"advices,omitempty"`
	VerboseAdvices json.RawMessage `json:"verboseAdvices,omitempty"`
	Source         *Diagnostic     `json:"source,omitempty"`
}

// Text flattens the markup message into plain text.
func (d Diagnostic) Text() string {
	var s string
	for _, n := range d.Message {
		s += n.Content
	}
	if s == "" {
		return d.Description
	}
	return s
}

// MarkupNode is one styled run of text.
type MarkupNode struct {
	Content  string          `json:"content"`
	Elements json.RawMessage `json:"elements,omitempty"`
}

// Location points into a resource. Path is "argv", "memory" or
// {"file": "..."}.
type Location struct {
	Path       json.RawMessage `json:"path,omitempty"`
	SourceCode string          `json:"sourceCode,omitempty"`
	Span       *TextRange      `json:"span,omitempty"`
}

type GetCompletionsParams struct {
	Path     Path     `json:"path"`
	Position TextSize `json:"position"`
}

type CompletionResult struct {
	Items []CompletionItem `json:"items"`
}

// CompletionItemKind is "table", "function" or "column".
type CompletionItemKind string

type CompletionItem struct {
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Kind        CompletionItemKind `json:"kind"`
	Preselected bool               `json:"preselected"`
	Score       int                `json:"score"`
}

// UpdateSettingsParams replaces the worker's configuration. Configuration
// is the worker's own config document in JSON form.
type UpdateSettingsParams struct {
	Configuration      json.RawMessage `json:"configuration"`
	GitignoreMatches   []string        `json:"gitignore_matches"`
	SkipDB             bool            `json:"skip_db"`
	VcsBasePath        string          `json:"vcs_base_path,omitempty"`
	WorkspaceDirectory string          `json:"workspace_directory,omitempty"`
}

type OpenFileParams struct {
	Content string `json:"content"`
	Path    Path   `json:"path"`
	Version int32  `json:"version"`
}

type ChangeFileParams struct {
	Changes []ChangeParams `json:"changes"`
	Path    Path           `json:"path"`
	Version int32          `json:"version"`
}

// ChangeParams is one edit. A nil Range replaces the whole file.
type ChangeParams struct {
	Range *TextRange `json:"range,omitempty"`
	Text  string     `json:"text"`
}

type CloseFileParams struct {
	Path Path `json:"path"`
}
