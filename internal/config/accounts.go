package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// AccountSpec declares one tracked account in the accounts file.
type AccountSpec struct {
	Account   string `yaml:"account"`
	Frequency string `yaml:"frequency"`
	StartTime string `yaml:"start_time"`
}

type accountsFile struct {
	Accounts []AccountSpec `yaml:"accounts"`
}

// LoadAccounts parses the YAML accounts file at path. Entries are checked for
// required fields only; frequency and start time are validated at registration.
func LoadAccounts(path string) ([]AccountSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseAccounts(raw)
}

// ParseAccounts decodes accounts file content.
func ParseAccounts(raw []byte) ([]AccountSpec, error) {
	var f accountsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}

	seen := make(map[string]bool, len(f.Accounts))
	out := make([]AccountSpec, 0, len(f.Accounts))
	for i, a := range f.Accounts {
		a.Account = strings.TrimPrefix(strings.TrimSpace(a.Account), "@")
		a.Frequency = strings.TrimSpace(a.Frequency)
		a.StartTime = strings.TrimSpace(a.StartTime)
		if a.Account == "" {
			return nil, fmt.Errorf("accounts[%d]: account is required", i)
		}
		if a.Frequency == "" {
			return nil, fmt.Errorf("accounts[%d] (%s): frequency is required", i, a.Account)
		}
		if a.StartTime == "" {
			return nil, fmt.Errorf("accounts[%d] (%s): start_time is required", i, a.Account)
		}
		if seen[a.Account] {
			return nil, fmt.Errorf("accounts[%d]: duplicate account %q", i, a.Account)
		}
		seen[a.Account] = true
		out = append(out, a)
	}
	return out, nil
}
