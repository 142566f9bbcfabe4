package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.jsonl")
	require.NoError(t, os.WriteFile(good, []byte(
		`{"id":"a","embedding":[1,0,0]}`+"\n"+`{"id":"b","embedding":[0,1,0]}`+"\n"), 0o600))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"id":"a","embedding":[1,0]},{"id":"b","embedding":[1]}]`), 0o600))

	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run(context.Background(), []string{"personactl", "validate", "--corpus", good}))
	assert.Equal(t, "corpus ok: 2 personas, dimension 3\n", out.String())

	out.Reset()
	assert.Error(t, newApp(&out).Run(context.Background(), []string{"personactl", "validate", "--corpus", bad}))
}

func TestAnalyzeRequiresProduct(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{"personactl", "analyze"})
	assert.Error(t, err)
}
