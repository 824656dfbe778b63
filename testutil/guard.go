// Package testutil asserts import boundaries between the layers of assetcore:
// the domain stays free of implementation packages and the service core
// stays free of transports.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const modulePath = "assetcore"

// InternalImportForbidden matches any package under internal/.
func InternalImportForbidden(path string) bool {
	return within(path, modulePath+"/internal")
}

// AdapterImportForbidden matches the inbound adapters (HTTP, reports).
func AdapterImportForbidden(path string) bool {
	return within(path, modulePath+"/internal/adapters")
}

// TransportImportForbidden matches HTTP frameworks and their middleware.
func TransportImportForbidden(path string) bool {
	return within(path, "github.com/gin-gonic/gin") ||
		within(path, "github.com/gin-contrib") ||
		strings.Contains(path, "/instrumentation/github.com/gin-gonic/")
}

// LocalImportsExcept matches any assetcore package other than those listed.
func LocalImportsExcept(allowed ...string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(path string) bool {
		if !within(path, modulePath) {
			return false
		}
		_, ok := set[path]
		return !ok
	}
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// AssertNoDirectImports parses the non-test .go files in dir and fails if any
// import matches forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected", reason, viols)
}

// AssertNoTransitiveImports loads pattern with its dependency graph and fails
// if any reachable package matches forbidden.
func AssertNoTransitiveImports(t testing.TB, pattern string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := transitiveImportViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden transitive dependency detected", reason, viols)
}

var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

func transitiveImportViolations(pattern string, forbidden func(string) bool) ([]string, error) {
	roots, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var viols []string
	var walk func(p *packages.Package, via string)
	walk = func(p *packages.Package, via string) {
		if _, ok := seen[p.PkgPath]; ok {
			return
		}
		seen[p.PkgPath] = struct{}{}
		if forbidden(p.PkgPath) {
			viols = append(viols, p.PkgPath+" (via "+via+")")
		}
		for _, imp := range p.Imports {
			walk(imp, p.PkgPath)
		}
	}
	for _, root := range roots {
		for _, imp := range root.Imports {
			walk(imp, root.PkgPath)
		}
	}
	sort.Strings(viols)
	return viols, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, headline, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", headline, reason, strings.Join(viols, "\n"))
	}
}
