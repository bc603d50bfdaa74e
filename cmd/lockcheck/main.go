// Command lockcheck is a build-time lint, not part of the kernel binary:
// it loads package sched and flags any function other than the declared
// transition helpers (New, SetRunnable, SetBlocked, SetSleeping,
// SetWaiting, SetRunning, Tick, TakePending, Yield, and the
// removeRunnableLocked/removeSleepingLocked/removeLocked helpers) that
// assigns directly to a field named State. Writes to the scheduler's own
// list slices are not checked.
// This encodes invariant 1 of the testable-properties section as a
// syntactic lint rather than only as a runtime check: "every change of a
// thread's list membership goes through a transition function" (§9
// Design notes, "dynamic dispatch replacement"). Grounded on the
// teacher's own use of golang.org/x/tools (go.mod requires it, though no
// retrieved file exercises go/packages directly) -- go/pointer was
// considered and rejected for this checker, see DESIGN.md.
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"os"

	"golang.org/x/tools/go/packages"
)

// transitionFuncs lists the sched functions allowed to mutate a thread's
// scheduler-list membership or its State field directly. Every other
// function in the package is expected to call one of these instead of
// reaching into the fields itself.
var transitionFuncs = map[string]bool{
	"New":           true,
	"SetRunnable":   true,
	"SetBlocked":    true,
	"SetSleeping":   true,
	"SetWaiting":    true,
	"SetRunning":    true,
	"Tick":          true,
	"TakePending":   true,
	"Yield":         true,
	"removeRunnableLocked": true,
	"removeSleepingLocked": true,
	"removeLocked":  true,
}

// guardedFields are the struct fields a transition function owns;
// an assignment to one of these from outside transitionFuncs is flagged.
var guardedFields = map[string]bool{
	"State": true,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: lockcheck <package-pattern>\n")
		os.Exit(2)
	}

	cfg := &packages.Config{Mode: packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedName}
	pkgs, err := packages.Load(cfg, os.Args[1:]...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockcheck: load: %v\n", err)
		os.Exit(2)
	}

	violations := 0
	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			violations += checkFile(pkg.Fset, f)
		}
	}

	if violations > 0 {
		fmt.Fprintf(os.Stderr, "lockcheck: %d violation(s)\n", violations)
		os.Exit(1)
	}
}

// checkFile walks every top-level function declaration in f, reporting
// assignments to a guarded field from any function not in
// transitionFuncs.
func checkFile(fset *token.FileSet, f *ast.File) int {
	violations := 0
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		if transitionFuncs[fn.Name.Name] {
			continue
		}
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			assign, ok := n.(*ast.AssignStmt)
			if !ok {
				return true
			}
			for _, lhs := range assign.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				if guardedFields[sel.Sel.Name] {
					pos := fset.Position(sel.Pos())
					fmt.Printf("%s: %s assigns %s outside a transition function\n", pos, fn.Name.Name, sel.Sel.Name)
					violations++
				}
			}
			return true
		})
	}
	return violations
}
