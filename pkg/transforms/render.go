package transforms

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// TransformSet API coordinates.
const (
	TransformSetAPIVersion = "config.kio.kasten.io/v1alpha1"
	TransformSetKind       = "TransformSet"
)

// Document is a renderable TransformSet object.
type Document struct {
	APIVersion string   `json:"apiVersion"`
	Kind       string   `json:"kind"`
	Metadata   Metadata `json:"metadata"`
	Spec       Spec     `json:"spec"`
}

type Metadata struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type Spec struct {
	Transforms []Rule `json:"transforms"`
}

// NewDocument wraps rules into a TransformSet named name in the K10
// namespace.
func NewDocument(name, namespace string, rules []Rule) Document {
	return Document{
		APIVersion: TransformSetAPIVersion,
		Kind:       TransformSetKind,
		Metadata:   Metadata{Name: name, Namespace: namespace},
		Spec:       Spec{Transforms: rules},
	}
}

// Render marshals the document to YAML.
func (d Document) Render() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshaling transform set %s: %w", d.Metadata.Name, err)
	}
	return out, nil
}

// WriteTempFile persists the rendered document to an owner-only-readable
// temporary file and returns its path. The 0600 mode is kept even though
// transform content is not secret-bearing.
func (d Document) WriteTempFile() (string, error) {
	data, err := d.Render()
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "vm-restore-transforms-*.yaml")
	if err != nil {
		return "", fmt.Errorf("creating transform file: %w", err)
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		return "", fmt.Errorf("restricting transform file mode: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("writing transform file %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}
