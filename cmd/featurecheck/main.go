// Command featurecheck scans a package's source for Go constructs that
// might touch the runtime heap and flags any that appear, lexically within
// the same function, before that function's call into mem.Phys_init — the
// point at which this kernel's own physical allocator, and therefore its
// direct map and page tables, first exist. A heap growth attempt before
// that point has nothing backing it but whatever the boot assembly handed
// the Go runtime as an initial arena, so catching these early beats
// debugging a fault with no page tables to decode it.
//
// Retargeted from biscuit/scripts/features.go, which counted language
// feature frequency across a whole tree for a paper's statistics table;
// this keeps that file's AST-node classification helpers (make/new/append
// calls, composite-literal allocation, map/chan/closure detection) but
// narrows the question from "how much of this feature is used" to "is this
// feature used before the allocator is up".
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

type finding struct {
	kind string
	pos  token.Position
}

func isAppendCall(exprs []ast.Expr) bool { return isNamedCall(exprs, "append") }
func isMakeCall(exprs []ast.Expr) bool   { return isNamedCall(exprs, "make") }
func isNewCall(exprs []ast.Expr) bool    { return isNamedCall(exprs, "new") }

func isNamedCall(exprs []ast.Expr, name string) bool {
	if len(exprs) == 0 {
		return false
	}
	call, ok := exprs[0].(*ast.CallExpr)
	if !ok {
		return false
	}
	fun, ok := call.Fun.(*ast.Ident)
	return ok && fun.Name == name
}

func isCompositeLitAlloc(exprs []ast.Expr) bool {
	if len(exprs) == 0 {
		return false
	}
	u, ok := exprs[0].(*ast.UnaryExpr)
	if !ok || u.Op != token.AND {
		return false
	}
	_, ok = u.X.(*ast.CompositeLit)
	return ok
}

// physInitCall reports the position of the first call to mem.Phys_init
// within fn's body, or false if fn never calls it directly.
func physInitCall(fn *ast.FuncDecl) (token.Pos, bool) {
	if fn.Body == nil {
		return 0, false
	}
	var found token.Pos
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		if found != 0 {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		pkg, ok := sel.X.(*ast.Ident)
		if ok && pkg.Name == "mem" && sel.Sel.Name == "Phys_init" {
			found = call.Pos()
			return false
		}
		return true
	})
	return found, found != 0
}

// scanFunc walks fn's body collecting heap-indicating constructs that occur
// before cutoff (the position of its mem.Phys_init call).
func scanFunc(fn *ast.FuncDecl, fset *token.FileSet, cutoff token.Pos) []finding {
	var out []finding
	record := func(kind string, pos token.Pos) {
		if pos < cutoff {
			out = append(out, finding{kind, fset.Position(pos)})
		}
	}
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.GoStmt:
			record("goroutine", x.Pos())
		case *ast.DeferStmt:
			record("defer", x.Pos())
		case *ast.FuncLit:
			record("closure literal", x.Pos())
		case *ast.MapType:
			record("map type", x.Pos())
		case *ast.ChanType:
			record("channel type", x.Pos())
		case *ast.AssignStmt:
			switch {
			case isAppendCall(x.Rhs):
				record("append", x.Pos())
			case isMakeCall(x.Rhs):
				record("make", x.Pos())
			case isNewCall(x.Rhs):
				record("new", x.Pos())
			case isCompositeLitAlloc(x.Rhs):
				record("&composite literal", x.Pos())
			}
		}
		return true
	})
	return out
}

func scanFile(path string) ([]finding, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}
	var out []finding
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		cutoff, ok := physInitCall(fn)
		if !ok {
			continue
		}
		out = append(out, scanFunc(fn, fset, cutoff)...)
	}
	return out, nil
}

func main() {
	dir := "internal/boot"
	if len(os.Args) == 2 {
		dir = os.Args[1]
	} else if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: featurecheck [dir]\n")
		os.Exit(1)
	}

	var all []finding
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := scanFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, found...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "featurecheck: %v\n", err)
		os.Exit(1)
	}

	if len(all) == 0 {
		fmt.Println("featurecheck: no heap-touching constructs found before mem.Phys_init")
		return
	}
	for _, f := range all {
		fmt.Printf("%s: %s before mem.Phys_init\n", f.pos, f.kind)
	}
	os.Exit(1)
}
