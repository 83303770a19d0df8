package testutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hwml/internal/document"
)

// LoadDocument decodes and assembles inline JSON sources into a
// document, failing the test on any load error. files maps module name
// (relative path, no extension) to source; entry picks the governing
// module.
func LoadDocument(t *testing.T, entry string, files map[string]string) *document.Document {
	t.Helper()
	doc, err := TryLoadDocument(entry, files)
	require.NoError(t, err)
	return doc
}

// TryLoadDocument is LoadDocument returning the error instead of
// failing, for tests asserting load failures. The entry module decodes
// first so declaration order is stable.
func TryLoadDocument(entry string, files map[string]string) (*document.Document, error) {
	order := []string{entry}
	var rest []string
	for name := range files {
		if name != entry {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	var decoded []*document.File
	for _, name := range order {
		src, ok := files[name]
		if !ok {
			continue
		}
		f, err := document.DecodeFile(name, []byte(src))
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, f)
	}
	return document.Assemble(decoded, entry)
}
