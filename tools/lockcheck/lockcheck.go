package main

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const (
	syncPkgPath = "rvkernel/kernel/sync"
	gatePkgPath = "rvkernel/kernel/gate"
)

// Analyzer flags gate.Resume calls made while a sync.Spinlock acquired in the
// same function body has not been released yet. A deferred Release does not
// run before the call and therefore leaves the lock held.
var Analyzer = &analysis.Analyzer{
	Name:     "lockcheck",
	Doc:      "report spinlocks held across gate.Resume",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.FuncLit)(nil),
	}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		switch fn := n.(type) {
		case *ast.FuncDecl:
			if fn.Body != nil {
				checkBody(pass, fn.Body)
			}
		case *ast.FuncLit:
			checkBody(pass, fn.Body)
		}
	})

	return nil, nil
}

// checkBody walks the statements of a single function in source order.
// Function literals are skipped as they are checked on their own.
func checkBody(pass *analysis.Pass, body *ast.BlockStmt) {
	var held []string

	ast.Inspect(body, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.DeferStmt:
			return false
		case *ast.CallExpr:
			switch callKind(pass, node) {
			case callAcquire:
				held = append(held, lockName(node))
			case callRelease:
				held = remove(held, lockName(node))
			case callResume:
				for _, lock := range held {
					pass.Reportf(node.Pos(), "gate.Resume called while spinlock %s is held", lock)
				}
			}
		}
		return true
	})
}

type callType uint8

const (
	callOther callType = iota
	callAcquire
	callRelease
	callResume
)

func callKind(pass *analysis.Pass, call *ast.CallExpr) callType {
	var ident *ast.Ident
	switch fun := call.Fun.(type) {
	case *ast.SelectorExpr:
		ident = fun.Sel
	case *ast.Ident:
		ident = fun
	default:
		return callOther
	}

	fn, ok := pass.TypesInfo.Uses[ident].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return callOther
	}

	sig := fn.Type().(*types.Signature)
	if recv := sig.Recv(); recv != nil {
		if !isSpinlock(recv.Type()) {
			return callOther
		}
		switch fn.Name() {
		case "Acquire":
			return callAcquire
		case "Release":
			return callRelease
		}
		return callOther
	}

	if fn.Pkg().Path() == gatePkgPath && fn.Name() == "Resume" {
		return callResume
	}
	return callOther
}

func isSpinlock(t types.Type) bool {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}

	named, ok := t.(*types.Named)
	if !ok {
		return false
	}

	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == syncPkgPath && obj.Name() == "Spinlock"
}

// lockName returns the receiver expression of a lock method call.
func lockName(call *ast.CallExpr) string {
	if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
		return types.ExprString(sel.X)
	}
	return "?"
}

func remove(held []string, lock string) []string {
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == lock {
			return append(held[:i], held[i+1:]...)
		}
	}
	return held
}
