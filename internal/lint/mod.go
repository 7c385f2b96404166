// Command lint provides the custom checks of the repository for "go vet".
//
//	go build -o lint ./internal/lint && go vet -vettool=./lint ./...
//
// The comment check reports the lines of comments longer than MaxLen. The wrap
// check reports the calls to xerrors.Errorf where the "%w" verb is not at the
// end of the format, as the error is not wrapped in that case.
package main

import (
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/unitchecker"
)

// MaxLen is the maximum length of a comment line.
var MaxLen = 80

var commentAnalyzer = &analysis.Analyzer{
	Name: "commentLen",
	Doc:  "checks the lengths of comments",
	Run:  runComments,
}

var wrapAnalyzer = &analysis.Analyzer{
	Name: "errWrap",
	Doc:  "checks that the error verb of xerrors.Errorf ends the format",
	Run:  runWrap,
}

func main() {
	unitchecker.Main(
		commentAnalyzer,
		wrapAnalyzer,
	)
}

func runComments(pass *analysis.Pass) (interface{}, error) {
fileLoop:
	for _, file := range pass.Files {
		isFirst := true

		for _, cg := range file.Comments {
			for _, c := range cg.List {
				if isFirst && strings.HasPrefix(c.Text, "// Code generated") {
					continue fileLoop
				}

				// A /* */ comment spans multiple lines.
				for _, line := range strings.Split(c.Text, "\n") {
					if strings.HasPrefix(line, "//go:") {
						continue
					}

					if len(line) > MaxLen {
						pass.Reportf(c.Pos(), "Comment too long: %s (%d)",
							line, len(line))
					}
				}

				isFirst = false
			}
		}
	}

	return nil, nil
}

func runWrap(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || len(call.Args) == 0 || !isErrorf(call.Fun) {
				return true
			}

			lit, ok := call.Args[0].(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				return true
			}

			format, err := strconv.Unquote(lit.Value)
			if err != nil {
				return true
			}

			idx := strings.Index(format, "%w")
			if idx >= 0 && !strings.HasSuffix(format, ": %w") {
				pass.Reportf(lit.Pos(), "error is not wrapped: %q", format)
			}

			return true
		})
	}

	return nil, nil
}

func isErrorf(fn ast.Expr) bool {
	sel, ok := fn.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Errorf" {
		return false
	}

	pkg, ok := sel.X.(*ast.Ident)

	return ok && pkg.Name == "xerrors"
}
