package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateManPagesIsReproducible(t *testing.T) {
	t.Parallel()

	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, GenerateManPages(first, testBuildInfo()))
	require.NoError(t, GenerateManPages(second, testBuildInfo()))

	for _, page := range []string{"pctrl.1", "pctrl-script-ls.1", "pctrl-credential-show.1"} {
		a, err := os.ReadFile(filepath.Join(first, page))
		require.NoErrorf(t, err, "missing page %s", page)
		b, err := os.ReadFile(filepath.Join(second, page))
		require.NoError(t, err)
		require.Equal(t, string(a), string(b))
		require.Contains(t, string(a), "Feb 2026")
		require.Contains(t, string(a), "pctrl 1.2.3")
	}
}
