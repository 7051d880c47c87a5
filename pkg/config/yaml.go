package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds what a configuration file may contain.
type YAMLLimits struct {
	MaxFileSize  int64 // bytes
	MaxDepth     int
	MaxNodes     int
	MaxKeyLength int   // bytes
	MaxValueSize int64 // bytes
}

// DefaultYAMLLimits returns limits generous for any real configuration.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024,
		MaxDepth:     12,
		MaxNodes:     5000,
		MaxKeyLength: 256,
		MaxValueSize: 64 * 1024,
	}
}

// unmarshalYAML validates the node tree of data against limits and then
// decodes it into v. Unknown fields are rejected.
func unmarshalYAML(data []byte, v any, limits YAMLLimits) error {
	if int64(len(data)) > limits.MaxFileSize {
		return fmt.Errorf("config file too large: %d bytes exceeds maximum %d bytes", len(data), limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}

	val := &yamlValidator{limits: limits}
	if err := val.validateNode(&root, 0); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("YAML decode error: %w", err)
	}
	return nil
}

type yamlValidator struct {
	limits    YAMLLimits
	nodeCount int
}

func (v *yamlValidator) validateNode(node *yaml.Node, depth int) error {
	if depth > v.limits.MaxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, v.limits.MaxDepth)
	}

	v.nodeCount++
	if v.nodeCount > v.limits.MaxNodes {
		return fmt.Errorf("YAML node count %d exceeds maximum %d", v.nodeCount, v.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := v.validateNode(child, depth); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if len(key.Value) > v.limits.MaxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(key.Value), v.limits.MaxKeyLength)
			}
			if err := v.validateNode(key, depth+1); err != nil {
				return err
			}
			if err := v.validateNode(value, depth+1); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := v.validateNode(child, depth+1); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if int64(len(node.Value)) > v.limits.MaxValueSize {
			return fmt.Errorf("YAML value size %d bytes exceeds maximum %d bytes", len(node.Value), v.limits.MaxValueSize)
		}

	case yaml.AliasNode:
		// aliases count against the limits of their target, which stops
		// billion-laughs expansion
		if node.Alias != nil {
			if err := v.validateNode(node.Alias, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}
