package instrument

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// Branch kinds declared by GoExtractor.
const (
	BranchIf     = "if"
	BranchSwitch = "switch"
	BranchSelect = "select"
	BranchLogic  = "binary-expr"
)

// GoExtractor declares statements, branches, functions and lines of Go source.
type GoExtractor struct{}

func (GoExtractor) Name() string { return "go" }

func (GoExtractor) Extract(key domain.FileKey, content []byte) (Constructs, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, key.OSPath(), content, parser.SkipObjectResolution)
	if err != nil {
		return Constructs{}, fmt.Errorf("parse: %w", err)
	}
	w := &goWalker{fset: fset, skip: make(map[ast.Node]bool), lines: make(map[int]bool)}
	for _, decl := range file.Decls {
		w.scope = "glob"
		w.lits = 0
		if fn, ok := decl.(*ast.FuncDecl); ok {
			w.scope = funcName(fn)
			if fn.Body != nil {
				w.addFunction(w.scope, fn)
			}
		}
		ast.Inspect(decl, w.visit)
	}

	lines := make([]int, 0, len(w.lines))
	for l := range w.lines {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	w.out.Lines = lines
	return w.out, nil
}

type goWalker struct {
	fset  *token.FileSet
	out   Constructs
	skip  map[ast.Node]bool
	lines map[int]bool
	scope string
	lits  int
}

func (w *goWalker) visit(n ast.Node) bool {
	switch n := n.(type) {
	case nil:
		return false
	case *ast.FuncLit:
		w.lits++
		w.addFunction(fmt.Sprintf("%s.func%d", w.scope, w.lits), n)
	case *ast.IfStmt:
		w.skipNode(n.Init)
		w.addBranch(BranchIf, n, 2)
	case *ast.SwitchStmt:
		w.skipNode(n.Init)
		w.addBranch(BranchSwitch, n, clauseArms(n.Body))
	case *ast.TypeSwitchStmt:
		w.skipNode(n.Init)
		w.skipNode(n.Assign)
		w.addBranch(BranchSwitch, n, clauseArms(n.Body))
	case *ast.SelectStmt:
		w.addBranch(BranchSelect, n, max(len(n.Body.List), 1))
	case *ast.ForStmt:
		w.skipNode(n.Init)
		w.skipNode(n.Post)
	case *ast.BinaryExpr:
		if n.Op == token.LAND || n.Op == token.LOR {
			w.addBranch(BranchLogic, n, 2)
		}
	}
	if stmt, ok := n.(ast.Stmt); ok && countable(stmt) && !w.skip[n] {
		w.addStatement(stmt)
	}
	return true
}

func (w *goWalker) skipNode(n ast.Stmt) {
	if n != nil {
		w.skip[n] = true
	}
}

func (w *goWalker) span(n ast.Node) domain.Span {
	start, end := w.fset.Position(n.Pos()), w.fset.Position(n.End())
	return domain.Span{
		Start: domain.Position{Line: start.Line, Column: start.Column},
		End:   domain.Position{Line: end.Line, Column: end.Column},
	}
}

func (w *goWalker) addStatement(n ast.Stmt) {
	span := w.span(n)
	w.out.Statements = append(w.out.Statements, domain.Statement{ID: len(w.out.Statements), Span: span})
	w.lines[span.Start.Line] = true
}

func (w *goWalker) addBranch(kind string, n ast.Node, arms int) {
	w.out.Branches = append(w.out.Branches, domain.Branch{
		ID:   len(w.out.Branches),
		Kind: kind,
		Line: w.fset.Position(n.Pos()).Line,
		Arms: arms,
	})
}

func (w *goWalker) addFunction(name string, n ast.Node) {
	w.out.Functions = append(w.out.Functions, domain.Function{ID: len(w.out.Functions), Name: name, Span: w.span(n)})
}

// countable excludes the structural statements that only group others.
func countable(s ast.Stmt) bool {
	switch s.(type) {
	case *ast.BlockStmt, *ast.EmptyStmt, *ast.LabeledStmt, *ast.CaseClause, *ast.CommClause:
		return false
	}
	return true
}

// clauseArms counts case clauses plus the implicit default arm.
func clauseArms(body *ast.BlockStmt) int {
	arms := len(body.List)
	for _, s := range body.List {
		if cc, ok := s.(*ast.CaseClause); ok && cc.List == nil {
			return arms
		}
	}
	return arms + 1
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	return fmt.Sprintf("%s.%s", recvName(fn.Recv.List[0].Type), fn.Name.Name)
}

func recvName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return "(*" + recvName(t.X) + ")"
	case *ast.IndexExpr:
		return recvName(t.X)
	case *ast.IndexListExpr:
		return recvName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return "?"
}
