package parse

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// goParser parses Go source with the standard library's go/ast, the
// same approach as the teacher's parseGoFile in internal/indexer/parser.go.
type goParser struct{}

func newGoParser() *goParser { return &goParser{} }

func (p *goParser) Parse(filePath, content string) (*ParsedFile, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		return nil, &ParseError{FilePath: filePath, Reason: err.Error()}
	}

	lines := strings.Split(content, "\n")
	pf := &ParsedFile{FilePath: filePath, Language: "go"}

	// Map receiver type name -> index in RootDeclarations so methods
	// nest under their receiver's class-equivalent declaration. Go has
	// no class keyword, so a struct/interface type acts as the class.
	declByName := map[string]int{}

	ast.Inspect(node, func(n ast.Node) bool {
		switch decl := n.(type) {
		case *ast.GenDecl:
			for _, spec := range decl.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := DeclClass
				if _, isIface := ts.Type.(*ast.InterfaceType); isIface {
					kind = DeclInterface
				}
				d := Declaration{
					Kind:      kind,
					Name:      ts.Name.Name,
					StartLine: fset.Position(decl.Pos()).Line,
					EndLine:   fset.Position(decl.End()).Line,
					Content:   sliceLines(lines, fset.Position(decl.Pos()).Line, fset.Position(decl.End()).Line),
				}
				declByName[ts.Name.Name] = len(pf.RootDeclarations)
				pf.RootDeclarations = append(pf.RootDeclarations, d)
			}
		case *ast.FuncDecl:
			start := fset.Position(decl.Pos()).Line
			end := fset.Position(decl.End()).Line
			content := sliceLines(lines, start, end)

			if decl.Recv == nil || len(decl.Recv.List) == 0 {
				pf.RootDeclarations = append(pf.RootDeclarations, Declaration{
					Kind:      DeclFunction,
					Name:      decl.Name.Name,
					StartLine: start,
					EndLine:   end,
					Content:   content,
				})
				return true
			}

			recvName := receiverTypeName(decl.Recv.List[0].Type)
			method := Declaration{
				Kind:      DeclMethod,
				Name:      recvName + "." + decl.Name.Name,
				StartLine: start,
				EndLine:   end,
				Content:   content,
			}
			if idx, ok := declByName[recvName]; ok {
				pf.RootDeclarations[idx].Children = append(pf.RootDeclarations[idx].Children, method)
			} else {
				// Receiver type declared elsewhere (e.g. another file);
				// surface the method as a top-level declaration so it is
				// never silently dropped.
				pf.RootDeclarations = append(pf.RootDeclarations, method)
			}
		}
		return true
	})

	return pf, nil
}

// receiverTypeName strips pointer/generic decoration to get the bare
// receiver type name, e.g. "*Foo[T]" -> "Foo".
func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
