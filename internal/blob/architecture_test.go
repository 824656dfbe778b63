package blob

import (
	"assetcore/testutil"
	"path/filepath"
	"strings"
	"testing"
)

func infraBlobImport(path string) bool {
	const prefix = "assetcore/internal/infra/blob"
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// TestOnlyBlobPackageImportsInfra keeps backend packages behind this wrapper;
// callers depend on blob.Store instead.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	dirs := []string{
		"../core",
		"../config",
		"../adapters/assets",
		"../adapters/reports",
		"../../cmd/assetcore",
	}
	for _, dir := range dirs {
		t.Run(filepath.Base(dir), func(t *testing.T) {
			testutil.AssertNoDirectImports(t, dir, infraBlobImport, "use assetcore/internal/blob")
		})
	}
}
