package web

import (
	"os"
	"strings"
)

// TailFile returns the last n lines of a file.
func TailFile(path string, n int) (string, error) {
	if n < 1 {
		n = 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
