package main

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// manifest is the -objects file format:
//
//	objects:
//	  - Account
//	  - Contact
type manifest struct {
	Objects []string `json:"objects"`
}

// loadObjects merges the objects listed in file (if any) with args,
// keeping first-seen order and dropping blanks and duplicates.
func loadObjects(file string, args []string) ([]string, error) {
	var names []string
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read objects file: %w", err)
		}
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse objects file %s: %w", file, err)
		}
		names = append(names, m.Objects...)
	}
	names = append(names, args...)

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no objects to export")
	}
	return out, nil
}
