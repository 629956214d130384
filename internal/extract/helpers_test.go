package extract

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func schemaFor(t *testing.T, dt model.DocType) *model.Schema {
	t.Helper()
	s, err := registry.Default().Schema(dt)
	require.NoError(t, err)
	return s
}

// minimalPDF builds a one-page PDF whose content stream draws a rectangle
// and carries no text, like a scanned page.
func minimalPDF() []byte {
	content := "0 0 10 10 re f"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// fakeOCR returns fixed page text.
type fakeOCR struct {
	pages []string
	err   error
	calls int
}

func (f *fakeOCR) ExtractPages(_ context.Context, _ []byte) ([]string, error) {
	f.calls++
	return f.pages, f.err
}

// rentRollCSV renders n units. Every 10th tenant is blank and every 7th
// rent is a dash placeholder.
func rentRollCSV(n int) []byte {
	var b bytes.Buffer
	b.WriteString("Unit,Tenant,Sq Ft,Rent,Market Rent,Lease Start,Lease End\n")
	for i := 1; i <= n; i++ {
		tenant := fmt.Sprintf("Tenant %d", i)
		if i%10 == 0 {
			tenant = ""
		}
		rent := fmt.Sprintf("\"$1,%03d.00\"", 100+i)
		if i%7 == 0 {
			rent = "-"
		}
		fmt.Fprintf(&b, "A-%03d,%s,850,%s,\"$1,500.00\",1/15/2024,1/14/2025\n", i, tenant, rent)
	}
	return b.Bytes()
}
