// Package policy loads the policy document: the system role catalog and the
// feature permission map. The document is YAML and can come from the binary,
// a file or an S3 object.
package policy

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
)

//go:embed default.yaml
var defaultDocument []byte

// Document is a parsed policy.
type Document struct {
	Roles    []role.Definition
	Features permission.FeatureMap

	// Hash identifies the source bytes so unchanged documents can be skipped.
	Hash string
}

type rawDocument struct {
	Roles    []role.Definition   `yaml:"roles"`
	Features map[string][]string `yaml:"features"`
}

// Parse decodes and validates a policy document.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if _, err := role.BuildSystemRoles(raw.Roles); err != nil {
		return nil, err
	}
	features, err := permission.ParseFeatureMap(raw.Features)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return &Document{
		Roles:    raw.Roles,
		Features: features,
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

// SystemRoles builds the document's roles.
func (d *Document) SystemRoles() ([]*role.Role, error) {
	return role.BuildSystemRoles(d.Roles)
}

// Source loads a policy document.
type Source interface {
	Load(ctx context.Context) (*Document, error)
}

// EmbeddedSource serves the document compiled into the binary.
type EmbeddedSource struct{}

// Load implements Source.
func (EmbeddedSource) Load(context.Context) (*Document, error) {
	return Parse(defaultDocument)
}

// FileSource reads the document from disk on every load.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(context.Context) (*Document, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// StaticSource always returns the same document. Used by tests.
type StaticSource struct {
	Doc *Document
	Err error
}

// Load implements Source.
func (s *StaticSource) Load(context.Context) (*Document, error) {
	return s.Doc, s.Err
}
