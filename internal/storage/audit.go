package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

const maxAuditEntries = 500

// LoadAudit reads the operator audit trail, oldest first.
func LoadAudit(dataDir string) ([]string, error) {
	lines, err := readLines(filepath.Join(dataDir, "audit.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	return lines, nil
}

// SaveAudit writes the audit trail, keeping only the newest 500 entries.
func SaveAudit(dataDir string, entries []string) error {
	if len(entries) > maxAuditEntries {
		entries = entries[len(entries)-maxAuditEntries:]
	}
	return writeLines(filepath.Join(dataDir, "audit.txt"), entries)
}

// AddAudit appends an entry, dropping the oldest past the cap.
func AddAudit(entries []string, entry string) []string {
	entries = append(entries, entry)
	if len(entries) > maxAuditEntries {
		entries = entries[len(entries)-maxAuditEntries:]
	}
	return entries
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			return err
		}
	}
	return nil
}
