package requestlog

import (
	"go/parser"
	"go/token"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The package must stay embeddable: only these kothd packages may be imported.
func TestPackageImports(t *testing.T) {
	files, err := os.ReadDir(".")
	require.NoError(t, err)

	const module = "github.com/kothbackend/kothd/"
	found := map[string]bool{}
	fset := token.NewFileSet()
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range file.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if strings.HasPrefix(path, module) {
				found[strings.TrimPrefix(path, module)] = true
			}
		}
	}

	got := make([]string, 0, len(found))
	for p := range found {
		got = append(got, p)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"internal/id", "pkg/logging", "pkg/metrics"}, got)
}
