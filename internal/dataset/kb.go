package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KB maps a subflow name to the actions a correct resolution takes.
type KB map[string][]string

// LoadKB reads a knowledge base from a JSON or YAML file. A directory is
// searched for kb.json.
func LoadKB(path string) (KB, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, KBFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading kb: %w", err)
	}

	var kb KB
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &kb)
	default:
		err = json.Unmarshal(data, &kb)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding kb %s: %w", path, err)
	}
	return kb, nil
}
