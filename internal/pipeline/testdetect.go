package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/badgergraph/codegraph/internal/lang"
)

// isTestFile returns true if the file path indicates a test file for the given language.
func isTestFile(relPath string, language lang.Language) bool {
	base := filepath.Base(relPath)
	dir := filepath.Dir(relPath)

	switch language {
	case lang.Python:
		if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
			return true
		}
		return containsTestDir(dir, "__tests__", "tests")

	case lang.C:
		noExt := strings.TrimSuffix(base, filepath.Ext(base))
		if strings.HasSuffix(noExt, "_test") || strings.HasPrefix(noExt, "test_") {
			return true
		}
		return containsTestDir(dir, "test", "tests")
	}

	return false
}

// containsTestDir returns true if any segment of dir matches one of the patterns.
func containsTestDir(dir string, patterns ...string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(dir), "/") {
		for _, p := range patterns {
			if seg == p {
				return true
			}
		}
	}
	return false
}

// isTestFunction returns true if the function name indicates a test entry point
// (as opposed to a test helper). Used by passTests to gate TESTS edge creation.
func isTestFunction(funcName string, language lang.Language) bool {
	switch language {
	case lang.Python:
		return strings.HasPrefix(funcName, "test_") ||
			strings.HasPrefix(funcName, "Test")

	case lang.C:
		return strings.HasPrefix(funcName, "test_") ||
			strings.HasPrefix(funcName, "Test") ||
			strings.HasSuffix(funcName, "_test")
	}

	return false
}
