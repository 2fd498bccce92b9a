package graph

import "regexp"

// entityPattern pairs an entity type with its recognizer. Order matters:
// the first pattern to claim a substring wins.
type entityPattern struct {
	kind string
	re   *regexp.Regexp
}

var entityPatterns = []entityPattern{
	{"file", regexp.MustCompile("(?:^|[\\s`\"'])([a-zA-Z_][\\w]*\\.(?:py|js|ts|tsx|jsx|css|html|md|yml|yaml|json|toml|rs|go|sql))\\b")},
	{"class", regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]{2,}(?:[A-Z][a-z]+)+)\b`)},
	{"tool", regexp.MustCompile(`(?i)\b(SQLite|FastAPI|Redis|Docker|Kubernetes|PostgreSQL|MySQL|React|Vue|Next\.js|Vite|Tailwind|Python|TypeScript|JavaScript|GitHub|GitLab|AWS|GCP|Azure|Vercel|Netlify|OpenAI|Anthropic|Claude|GPT|LangChain|LlamaIndex|Mem0|Zep|Letta|MemGPT|Cognee|pytest|uvicorn|pip|npm|node|cargo|sqlite-vec|sentence-transformers|ONNX|MCP)\b`)},
	{"url", regexp.MustCompile(`(https?://[^\s<>"']+|[a-zA-Z0-9][-a-zA-Z0-9]*\.[a-z]{2,})`)},
	{"project", regexp.MustCompile(`\b([a-z][a-z0-9]*(?:-[a-z0-9]+){1,})\b`)},
}

// relationSignal pairs a relation type with the phrases that signal it.
// Evaluated in order; the first phrase found in the content decides the
// relation type for every entity pair in that fact.
type relationSignal struct {
	relation string
	phrases  []string
}

var relationSignals = []relationSignal{
	{"uses", []string{"uses", "using", "used", "with", "via", "through"}},
	{"depends_on", []string{"depends on", "requires", "needs", "dependency"}},
	{"created_by", []string{"created by", "built by", "made by", "authored by", "written by"}},
	{"replaces", []string{"replaces", "replaced", "instead of", "migrated from"}},
	{"extends", []string{"extends", "inherits", "based on", "derived from"}},
	{"contains", []string{"contains", "includes", "has", "with"}},
	{"deployed_to", []string{"deployed to", "hosted on", "runs on", "deployed on"}},
	{"integrates", []string{"integrates with", "connects to", "integrated"}},
}

// RelationFallback is used when no signal phrase matches.
const RelationFallback = "related_to"

// commonWords filters hyphenated English phrases out of the project-name
// pattern.
var commonWords = map[string]bool{
	"how-to": true, "set-up": true, "built-in": true, "run-time": true,
	"self-hosted": true, "up-to": true, "opt-in": true, "opt-out": true,
	"plug-in": true, "add-on": true, "on-premise": true, "on-prem": true,
	"re-run": true, "re-use": true, "pre-built": true, "well-known": true,
	"long-term": true, "short-term": true, "real-time": true,
	"open-source": true, "third-party": true, "end-to": true, "out-of": true,
	"read-only": true, "write-only": true, "read-write": true, "day-to": true,
	"step-by": true, "one-to": true, "many-to": true, "high-level": true,
	"low-level": true, "top-level": true, "the-end": true, "to-do": true,
	"per-day": true, "per-hour": true, "day-one": true, "end-of": true,
	"on-the": true, "in-the": true, "at-the": true, "by-the": true,
	"for-the": true, "non-null": true, "non-empty": true,
	"pre-commit": true, "post-commit": true,
}
