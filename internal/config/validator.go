package config

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the structural contract of the configuration file.
// Semantic checks that a schema cannot express live in Validate below.
const configSchema = `{
  "type": "object",
  "properties": {
    "data_dir": {"type": "string"},
    "storage": {
      "type": "object",
      "properties": {
        "backend": {"type": "string", "enum": ["file", "sqlite"]},
        "path": {"type": "string"}
      }
    },
    "accounts": {
      "type": "object",
      "properties": {
        "debounce_ms": {"type": "integer", "minimum": 1},
        "always_on": {"type": "array", "items": {"type": "string"}}
      }
    },
    "clients": {
      "type": "object",
      "properties": {
        "dirs": {"type": "array", "items": {"type": "string"}},
        "watch": {"type": "boolean"},
        "stability_ms": {"type": "integer", "minimum": 0}
      }
    },
    "maintenance": {
      "type": "object",
      "properties": {
        "commit_schedule": {"type": "string", "minLength": 1},
        "autoconnect_schedule": {"type": "string", "minLength": 1}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redaction": {"type": "boolean"}
      }
    }
  }
}`

// Validate checks a configuration against the schema plus the semantic
// rules. An empty slice means the config is usable.
func Validate(cfg *Config) []error {
	var errors []error

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(cfg),
	)
	if err != nil {
		return []error{fmt.Errorf("schema validation failed: %w", err)}
	}
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Errorf("config: %s", desc))
	}

	for i, name := range cfg.Accounts.AlwaysOn {
		if name == "" {
			errors = append(errors, fmt.Errorf("accounts.always_on[%d]: empty account name", i))
		}
	}
	for i, dir := range cfg.Clients.Dirs {
		if dir == "" {
			errors = append(errors, fmt.Errorf("clients.dirs[%d]: empty directory", i))
		}
	}

	return errors
}
