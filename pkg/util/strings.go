package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SplitLines splits device output into lines, tolerating CRLF line endings.
func SplitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// TrimPromptDelimiter drops the trailing mode character of a CLI prompt,
// so "sw1#" and "sw1>" both yield "sw1".
func TrimPromptDelimiter(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return prompt
	}
	return prompt[:len(prompt)-1]
}

// SanitizeName replaces characters that are unsafe in file or key names with hyphens.
func SanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '.' {
			result = append(result, c)
		} else {
			result = append(result, '-')
		}
	}
	return string(result)
}
