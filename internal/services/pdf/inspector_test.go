package pdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func writePDF(t *testing.T, pages int) string {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 9)
	for p := 1; p <= pages; p++ {
		doc.AddPage()
		doc.Cell(40, 10, "Certificado literal")
	}

	path := filepath.Join(t.TempDir(), "11002345.pdf")
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

func TestInspector_PageCount(t *testing.T) {
	inspector := NewInspector(arbor.NewLogger())

	for _, pages := range []int{1, 3} {
		count, err := inspector.PageCount(writePDF(t, pages))
		require.NoError(t, err)
		assert.Equal(t, pages, count)
	}
}

func TestInspector_PageCount_NotAPDF(t *testing.T) {
	inspector := NewInspector(arbor.NewLogger())

	path := filepath.Join(t.TempDir(), "error.pdf")
	require.NoError(t, os.WriteFile(path, []byte("<html>Sesion expirada</html>"), 0644))

	_, err := inspector.PageCount(path)
	assert.Error(t, err)
}
