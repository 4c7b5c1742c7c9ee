//go:build ignore

// check_river_job_args.go: River job args carry identifiers only
// (claim-check). Workers load the raw event, reference or tenant they act
// on, so a retried job always sees current data and the job table never
// holds payloads.
//
// Every field of a type ending in "Args" under internal/jobs must be an
// int64 or string, and must not be named like a payload. Skip a file with
// //nolint:river-claim-check.

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

var forbiddenFieldNames = map[string]bool{
	"Payload":  true,
	"Data":     true,
	"Event":    true,
	"Facts":    true,
	"Counts":   true,
	"Rollup":   true,
	"Verdict":  true,
	"Snapshot": true,
}

var allowedFieldTypes = map[string]bool{
	"int64":  true,
	"string": true,
}

type jobArgsVisitor struct {
	fset       *token.FileSet
	path       string
	violations []string
}

func (v *jobArgsVisitor) Visit(n ast.Node) ast.Visitor {
	ts, ok := n.(*ast.TypeSpec)
	if !ok || !strings.HasSuffix(ts.Name.Name, "Args") {
		return v
	}
	st, ok := ts.Type.(*ast.StructType)
	if !ok || st.Fields == nil {
		return v
	}

	for _, field := range st.Fields.List {
		pos := v.fset.Position(field.Pos())
		typ, _ := field.Type.(*ast.Ident)
		for _, ident := range field.Names {
			switch {
			case forbiddenFieldNames[ident.Name]:
				v.violations = append(v.violations, fmt.Sprintf(
					"%s:%d: %s.%s looks like a payload; pass an id and load it in the worker",
					v.path, pos.Line, ts.Name.Name, ident.Name,
				))
			case typ == nil || !allowedFieldTypes[typ.Name]:
				v.violations = append(v.violations, fmt.Sprintf(
					"%s:%d: %s.%s must be int64 or string",
					v.path, pos.Line, ts.Name.Name, ident.Name,
				))
			}
		}
	}
	return v
}

func main() {
	const dir = "internal/jobs"
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Println("[river-claim-check] SKIP: internal/jobs not present")
		return
	}

	var violations []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.Contains(string(content), "//nolint:river-claim-check") {
			return nil
		}

		fset := token.NewFileSet()
		node, err := parser.ParseFile(fset, path, content, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		visitor := &jobArgsVisitor{fset: fset, path: path}
		ast.Walk(visitor, node)
		violations = append(violations, visitor.violations...)
		return nil
	})
	if err != nil {
		fmt.Printf("[river-claim-check] FAIL: walk %s: %v\n", dir, err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Println("[river-claim-check] FAIL: job args carry more than identifiers")
		for _, v := range violations {
			fmt.Println(v)
		}
		os.Exit(1)
	}
	fmt.Println("[river-claim-check] OK")
}
