package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/hwml/internal/document"
)

// Document file extensions recognized by the loader.
const (
	ExtJSON = ".hwml.json"
	ExtBare = ".hwml"
)

// entryCandidates lists module names tried, in order, when a directory
// is loaded without naming the entry file explicitly.
var entryCandidates = []string{"main", "index"}

// LoadError reports a problem locating or reading document files, as
// opposed to a problem inside a document (which is a SchemaError).
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeScanError = "E002" // Directory scan error
	ErrCodeNoFiles   = "E003" // No document files found
	ErrCodeNotFound  = "E004" // Path not found
	ErrCodeNoEntry   = "E005" // No entry module in directory
	ErrCodeReadError = "E006" // File read error
)

// LoadTree loads an hwml document from path. A file path loads that
// single file as the entry module. A directory is walked for *.hwml.json
// and *.hwml files; module names are the relative paths without
// extension, and the entry resolves to the "main" module, falling back
// to "index". The entry module decodes first so module declaration
// order is stable; the rest follow in sorted name order.
func LoadTree(path string) (*document.Document, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("document path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing document path: %v", err)}
	}

	if !info.IsDir() {
		name := moduleName(filepath.Base(path))
		f, err := decodeDocumentFile(path, name)
		if err != nil {
			return nil, err
		}
		return document.Assemble([]*document.File{f}, name)
	}

	byName, err := findDocumentFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(byName) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no *%s or *%s files found in %s", ExtJSON, ExtBare, path)}
	}

	entry := ""
	for _, candidate := range entryCandidates {
		if _, ok := byName[candidate]; ok {
			entry = candidate
			break
		}
	}
	if entry == "" {
		return nil, &LoadError{Code: ErrCodeNoEntry, Message: fmt.Sprintf("no entry module (main or index) in %s", path)}
	}

	order := []string{entry}
	for name := range byName {
		if name != entry {
			order = append(order, name)
		}
	}
	sort.Strings(order[1:])

	var files []*document.File
	for _, name := range order {
		f, err := decodeDocumentFile(byName[name], name)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return document.Assemble(files, entry)
}

// findDocumentFiles walks dir and maps module names to file paths.
func findDocumentFiles(dir string) (map[string]string, error) {
	byName := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDocumentFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		byName[moduleName(filepath.ToSlash(rel))] = path
		return nil
	})
	return byName, err
}

func decodeDocumentFile(path, name string) (*document.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadError, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return document.DecodeFile(name, data)
}

func isDocumentFile(name string) bool {
	return strings.HasSuffix(name, ExtJSON) || strings.HasSuffix(name, ExtBare)
}

// moduleName strips the document extension from a slash-separated
// relative path.
func moduleName(rel string) string {
	rel = strings.TrimSuffix(rel, ExtJSON)
	return strings.TrimSuffix(rel, ExtBare)
}
