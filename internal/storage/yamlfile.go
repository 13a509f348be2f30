package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mogad0n/oraserv/internal/ban"
	"gopkg.in/yaml.v3"
)

type ledgerFile struct {
	Bans map[string]ban.Record `yaml:"bans"`
}

// YAMLFile stores the ledger as bans.yaml in the data directory.
type YAMLFile struct {
	path string
}

func NewYAMLFile(dataDir string) *YAMLFile {
	return &YAMLFile{path: filepath.Join(dataDir, "bans.yaml")}
}

func (f *YAMLFile) Load(_ context.Context) (map[string]ban.Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ban.Record{}, nil
		}
		return nil, err
	}

	var file ledgerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}

	if file.Bans == nil {
		file.Bans = map[string]ban.Record{}
	}

	for nick, rec := range file.Bans {
		if err := rec.Kind.Validate(); err != nil {
			return nil, fmt.Errorf("record for %s: %w", nick, err)
		}
	}

	return file.Bans, nil
}

// Save replaces bans.yaml through a temp file so a crash never leaves a partial ledger.
func (f *YAMLFile) Save(_ context.Context, records map[string]ban.Record) error {
	data, err := yaml.Marshal(ledgerFile{Bans: records})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".bans-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}

func (f *YAMLFile) Close() error {
	return nil
}
