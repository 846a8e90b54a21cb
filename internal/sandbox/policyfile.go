package sandbox

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// policyFile is the YAML shape of a sandbox policy file
// (<state root>/sandbox.yaml).
type policyFile struct {
	Mode          string   `yaml:"mode"`
	WritableRoots []string `yaml:"writable_roots"`
	NetworkAccess bool     `yaml:"network_access"`
}

// LoadPolicyFile reads a sandbox policy from a YAML file. A missing file
// returns (nil, nil): no policy configured.
func LoadPolicyFile(path string) (*SandboxPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sandbox policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sandbox policy: %w", err)
	}
	if file.Mode == "" {
		return nil, nil
	}

	mode, err := ParseSandboxMode(file.Mode)
	if err != nil {
		return nil, err
	}

	roots := make([]WritableRoot, len(file.WritableRoots))
	for i, r := range file.WritableRoots {
		roots[i] = WritableRoot(r)
	}
	return &SandboxPolicy{
		Mode:          mode,
		WritableRoots: roots,
		NetworkAccess: file.NetworkAccess,
	}, nil
}
