// Package policy implements the policy lifecycle: content-addressed
// versioning, validation with a security denylist, and the
// draft/active/archived state machine.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

// importDenylist names Rego builtins that must not appear in tenant policies:
// they reach the network or the clock from inside the decision path.
var importDenylist = []string{
	"http.send",
	"net.lookup_ip_addr",
	"net.cidr_contains",
	"time.now_ns",
}

// Checksum returns the hex SHA-256 of the policy content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// checkDenylist scans the content for denylisted imports and direct calls.
func checkDenylist(content string) []models.ValidationError {
	var verrs []models.ValidationError
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, banned := range importDenylist {
			if strings.HasPrefix(trimmed, "import ") && strings.Contains(trimmed, banned) {
				verrs = append(verrs, models.ValidationError{
					Code:    "denylisted_import",
					Message: fmt.Sprintf("import of %s is not allowed", banned),
					Line:    i + 1,
				})
				continue
			}
			if strings.Contains(trimmed, banned+"(") {
				verrs = append(verrs, models.ValidationError{
					Code:    "denylisted_call",
					Message: fmt.Sprintf("call to %s is not allowed", banned),
					Line:    i + 1,
				})
			}
		}
	}
	return verrs
}

// checkPackage verifies content is non-empty and declares a package.
func checkPackage(content string) []models.ValidationError {
	if strings.TrimSpace(content) == "" {
		return []models.ValidationError{{Code: "empty_content", Message: "policy content is empty"}}
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "package ") {
			return nil
		}
	}
	return []models.ValidationError{{Code: "missing_package", Message: "policy must declare a package"}}
}

// structuralCheck is the local fallback when the external compiler is
// unreachable: package present and balanced delimiters.
func structuralCheck(content string) []models.ValidationError {
	if verrs := checkPackage(content); len(verrs) > 0 {
		return verrs
	}

	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	for _, r := range content {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return []models.ValidationError{{
					Code:    "unbalanced_delimiters",
					Message: fmt.Sprintf("unexpected %q", r),
				}}
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return []models.ValidationError{{
			Code:    "unbalanced_delimiters",
			Message: fmt.Sprintf("unclosed %q", stack[len(stack)-1]),
		}}
	}
	return nil
}
