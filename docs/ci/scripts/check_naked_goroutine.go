//go:build ignore

// check_naked_goroutine.go: production code under internal/ never starts a
// goroutine with a bare `go` statement. Follow-up aggregation is enqueued
// on River; in-process fan-out is submitted to internal/pkg/worker. A
// goroutine that escapes both has no panic recovery and is not drained on
// shutdown.
//
// A line carrying //nolint:naked-goroutine (or the line after it) is skipped.
//
//	go run docs/ci/scripts/check_naked_goroutine.go [root]

package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const suppressTag = "nolint:naked-goroutine"

// poolPackage owns the goroutines everything else borrows.
const poolPackage = "internal/pkg/worker"

type finding struct {
	file string
	line int
}

func main() {
	root := "internal"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	if _, err := os.Stat(root); err != nil {
		fmt.Printf("[naked-goroutine] SKIP: %s not present\n", root)
		return
	}

	var findings []finding
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		slash := filepath.ToSlash(path)
		if d.IsDir() {
			if slash == poolPackage || strings.HasSuffix(slash, "/"+poolPackage) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := scanFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		findings = append(findings, found...)
		return nil
	})
	if err != nil {
		fmt.Printf("[naked-goroutine] FAIL: %v\n", err)
		os.Exit(1)
	}

	if len(findings) == 0 {
		fmt.Println("[naked-goroutine] OK")
		return
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].file != findings[j].file {
			return findings[i].file < findings[j].file
		}
		return findings[i].line < findings[j].line
	})
	fmt.Printf("[naked-goroutine] FAIL: %d naked goroutine(s)\n", len(findings))
	for _, f := range findings {
		fmt.Printf("%s:%d: enqueue a River job or submit to pools.General instead\n", f.file, f.line)
	}
	os.Exit(1)
}

func scanFile(path string) ([]finding, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	suppressed := make(map[int]bool)
	for _, group := range file.Comments {
		for _, c := range group.List {
			if strings.Contains(c.Text, suppressTag) {
				line := fset.Position(c.Pos()).Line
				suppressed[line] = true
				suppressed[line+1] = true
			}
		}
	}

	var out []finding
	ast.Inspect(file, func(n ast.Node) bool {
		stmt, ok := n.(*ast.GoStmt)
		if !ok {
			return true
		}
		line := fset.Position(stmt.Pos()).Line
		if !suppressed[line] {
			out = append(out, finding{file: path, line: line})
		}
		return true
	})
	return out, nil
}
