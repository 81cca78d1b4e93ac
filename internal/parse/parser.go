package parse

// multiLanguageParser dispatches Go files to goParser and everything
// else to the tree-sitter-backed parser, mirroring the teacher's
// multiLanguageParser in internal/indexer/parser.go.
type multiLanguageParser struct {
	goParser Parser
	tsParser Parser
}

// New returns the default Parser covering every language spec.md's
// default Config.CodePatterns names.
func New() Parser {
	return &multiLanguageParser{
		goParser: newGoParser(),
		tsParser: NewTreeSitterParser(),
	}
}

func (p *multiLanguageParser) Parse(filePath, content string) (*ParsedFile, error) {
	if detectLanguage(filePath) == "go" {
		return p.goParser.Parse(filePath, content)
	}
	return p.tsParser.Parse(filePath, content)
}
