package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// langSpec names the tree-sitter node kinds that mark a class-like
// declaration, an interface-like declaration, and a function/method
// declaration for one language. Grounded on the teacher's per-language
// parsers (python.go, typescript.go, java.go, ...), which each hand-walk
// a fixed set of node kinds the same way.
type langSpec struct {
	language   string
	lang       *sitter.Language
	classKinds map[string]bool
	ifaceKinds map[string]bool
	funcKinds  map[string]bool
}

func kindSet(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func newLangSpecs() map[string]langSpec {
	tsLang := sitter.NewLanguage(typescript.LanguageTypescript())
	specs := map[string]langSpec{
		"python": {
			language:   "python",
			lang:       sitter.NewLanguage(python.Language()),
			classKinds: kindSet("class_definition"),
			funcKinds:  kindSet("function_definition"),
		},
		"typescript": {
			language:   "typescript",
			lang:       tsLang,
			classKinds: kindSet("class_declaration"),
			ifaceKinds: kindSet("interface_declaration"),
			funcKinds:  kindSet("function_declaration", "method_definition"),
		},
		"javascript": {
			language:   "javascript",
			lang:       tsLang,
			classKinds: kindSet("class_declaration"),
			funcKinds:  kindSet("function_declaration", "method_definition"),
		},
		"java": {
			language:   "java",
			lang:       sitter.NewLanguage(java.Language()),
			classKinds: kindSet("class_declaration", "enum_declaration"),
			ifaceKinds: kindSet("interface_declaration"),
			funcKinds:  kindSet("method_declaration", "constructor_declaration"),
		},
		"rust": {
			language:   "rust",
			lang:       sitter.NewLanguage(rust.Language()),
			classKinds: kindSet("struct_item", "impl_item", "enum_item"),
			ifaceKinds: kindSet("trait_item"),
			funcKinds:  kindSet("function_item"),
		},
		"c": {
			language:  "c",
			lang:      sitter.NewLanguage(c.Language()),
			funcKinds: kindSet("function_definition"),
		},
		"cpp": {
			language:  "cpp",
			lang:      sitter.NewLanguage(c.Language()),
			funcKinds: kindSet("function_definition"),
		},
		"php": {
			language:   "php",
			lang:       sitter.NewLanguage(php.LanguagePHP()),
			classKinds: kindSet("class_declaration"),
			ifaceKinds: kindSet("interface_declaration"),
			funcKinds:  kindSet("function_definition", "method_declaration"),
		},
		"ruby": {
			language:   "ruby",
			lang:       sitter.NewLanguage(ruby.Language()),
			classKinds: kindSet("class"),
			funcKinds:  kindSet("method"),
		},
	}
	return specs
}

// treeSitterParser is a generic tree-sitter-backed Parser: it walks the
// parse tree collecting class/interface declarations and nests
// directly-contained functions/methods under them, the same shape the
// teacher's per-language parsers build by hand (extractClass +
// extractMethodsFromClass in python.go).
type treeSitterParser struct {
	specs map[string]langSpec
}

// NewTreeSitterParser returns a Parser covering every tree-sitter-backed
// language the teacher wires: python, typescript, javascript, java,
// rust, c, cpp, php, ruby.
func NewTreeSitterParser() Parser {
	return &treeSitterParser{specs: newLangSpecs()}
}

func (p *treeSitterParser) Parse(filePath, content string) (*ParsedFile, error) {
	language := detectLanguage(filePath)
	spec, ok := p.specs[language]
	if !ok {
		return nil, &ErrUnsupportedFileType{FilePath: filePath}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(spec.lang); err != nil {
		return nil, &ParseError{FilePath: filePath, Reason: err.Error()}
	}

	source := []byte(content)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, &ParseError{FilePath: filePath, Reason: "tree-sitter returned no tree"}
	}
	defer tree.Close()

	lines := strings.Split(content, "\n")
	pf := &ParsedFile{FilePath: filePath, Language: language}

	var walk func(node *sitter.Node, inClassName string)
	walk = func(node *sitter.Node, inClassName string) {
		if node == nil {
			return
		}
		kind := node.Kind()

		switch {
		case spec.classKinds[kind], spec.ifaceKinds[kind]:
			name := nodeName(node, source)
			declKind := DeclClass
			if spec.ifaceKinds[kind] {
				declKind = DeclInterface
			}
			d := Declaration{
				Kind:      declKind,
				Name:      name,
				StartLine: int(node.StartPosition().Row) + 1,
				EndLine:   int(node.EndPosition().Row) + 1,
			}
			d.Content = sliceLines(lines, d.StartLine, d.EndLine)

			idx := len(pf.RootDeclarations)
			pf.RootDeclarations = append(pf.RootDeclarations, d)
			for i := 0; i < int(node.ChildCount()); i++ {
				walkForMethods(node.Child(uint(i)), source, lines, spec, name, &pf.RootDeclarations[idx])
			}
			return

		case spec.funcKinds[kind] && inClassName == "":
			name := nodeName(node, source)
			d := Declaration{
				Kind:      DeclFunction,
				Name:      name,
				StartLine: int(node.StartPosition().Row) + 1,
				EndLine:   int(node.EndPosition().Row) + 1,
			}
			d.Content = sliceLines(lines, d.StartLine, d.EndLine)
			pf.RootDeclarations = append(pf.RootDeclarations, d)
			return
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(uint(i)), inClassName)
		}
	}

	walk(tree.RootNode(), "")
	return pf, nil
}

// walkForMethods descends into a class/interface body looking for
// directly or nestedly declared functions, attaching each as a method
// child of parent. It also recurses into nested class bodies, so a
// nested class's methods are attached to the enclosing class and the
// nested class gets no Declaration of its own (the outer walk stops at
// the enclosing class), matching the teacher's own single-level
// extraction.
func walkForMethods(node *sitter.Node, source []byte, lines []string, spec langSpec, className string, parent *Declaration) {
	if node == nil {
		return
	}
	if spec.funcKinds[node.Kind()] {
		name := nodeName(node, source)
		m := Declaration{
			Kind:      DeclMethod,
			Name:      className + "." + name,
			StartLine: int(node.StartPosition().Row) + 1,
			EndLine:   int(node.EndPosition().Row) + 1,
		}
		m.Content = sliceLines(lines, m.StartLine, m.EndLine)
		parent.Children = append(parent.Children, m)
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walkForMethods(node.Child(uint(i)), source, lines, spec, className, parent)
	}
}

func nodeName(node *sitter.Node, source []byte) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return string(source[nameNode.StartByte():nameNode.EndByte()])
}

// detectLanguage maps a file extension to a language tag, matching the
// teacher's detectLanguage used for parser dispatch.
func detectLanguage(filePath string) string {
	ext := strings.ToLower(filePath[strings.LastIndex(filePath, ".")+1:])
	switch ext {
	case "go":
		return "go"
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx":
		return "javascript"
	case "py":
		return "python"
	case "rs":
		return "rust"
	case "c", "h":
		return "c"
	case "cpp", "cc", "hpp":
		return "cpp"
	case "java":
		return "java"
	case "php":
		return "php"
	case "rb":
		return "ruby"
	default:
		return ""
	}
}
