package vault

import (
	"fmt"
	"os"

	"github.com/tidwall/sjson"
)

// configFilePattern names the generated config file in the temp directory.
const configFilePattern = "embedded-vault-config*.json"

// RenderConfig serialises the settings into the server's JSON config file
// format. Keys keep a fixed order.
func RenderConfig(s Settings) ([]byte, error) {
	doc := []byte(`{}`)
	fields := []struct {
		key   string
		value string
	}{
		{"cluster_name", s.ClusterName()},
		{"default_lease_ttl", s.DefaultLeaseTTL()},
		{"max_lease_ttl", s.MaxLeaseTTL()},
	}

	var err error
	for _, f := range fields {
		doc, err = sjson.SetBytes(doc, f.key, f.value)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", f.key, err)
		}
	}
	return append(doc, '\n'), nil
}

// writeConfigFile writes the rendered config into a new temp file in dir
// (the system temp dir when empty) and returns its path. The caller owns
// the file.
func writeConfigFile(dir string, s Settings) (string, error) {
	data, err := RenderConfig(s)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, configFilePattern)
	if err != nil {
		return "", fmt.Errorf("creating config file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("closing config file: %w", err)
	}
	return path, nil
}
