package cli

import (
	"errors"
	"regexp"
	"strings"
)

// ValidateInput checks a configured path (base security file, patterns
// file, diagnostics database, output path) for shell-injection and
// path-traversal patterns before it reaches os.Stat/os.ReadFile/os.WriteFile,
// since these paths are read straight out of a YAML config file a run
// operator controls.
func ValidateInput(input string) error {
	// Check for command injection patterns
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return errors.New("potentially malicious input detected")
	}

	// Check for path traversal
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errors.New("potentially malicious input detected")
	}

	// Check for SQL injection patterns (more specific)
	sqlPattern := regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return errors.New("potentially malicious input detected")
	}

	// Additional checks can be added here

	return nil
}
