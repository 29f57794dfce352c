package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toMap round-trips cfg through JSON so paths use the json tag names.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "completion.model").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		val, ok := section[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = val
	}
	return current, nil
}

// SetByPath sets an existing config value by dot-notation path. Unknown keys
// are rejected so a typo cannot silently produce a no-op edit.
func SetByPath(cfg *Config, path string, value any) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown section %q in %s", key, path)
		}
		parent = child
	}

	last := parts[len(parts)-1]
	current, ok := parent[last]
	// omitempty fields are absent from the map when unset; all of them are strings.
	if !ok && !optionalKeys[path] {
		return fmt.Errorf("key not found: %s", path)
	}
	if _, isString := current.(string); isString || !ok {
		parent[last] = fmt.Sprint(value)
	} else {
		parent[last] = parseValue(value)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = updated
	return nil
}

var optionalKeys = map[string]bool{
	"line.apiBase":         true,
	"telegram.apiEndpoint": true,
	"logging.file":         true,
}

// parseValue converts CLI string values for non-string fields to bool or number.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Line.ChannelAccessToken = maskString(c.Line.ChannelAccessToken)
	c.Line.ChannelSecret = maskString(c.Line.ChannelSecret)
	c.Telegram.Token = maskString(c.Telegram.Token)
	c.Telegram.SecretToken = maskString(c.Telegram.SecretToken)
	c.Completion.APIKey = maskString(c.Completion.APIKey)
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path in sorted order with its current value.
func ListPaths(cfg *Config) ([]string, map[string]any) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, nil
	}
	values := make(map[string]any)
	flattenMap("", m, values)

	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, values
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenMap(path, child, result)
			continue
		}
		result[path] = v
	}
}
