package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. MCPGEN_TEMPLATE_DIR.
const EnvPrefix = "MCPGEN"

// Config keys. Flags of the same name bind to them.
const (
	keyInput             = "input"
	keyTemplate          = "template"
	keyTemplateDir       = "template-dir"
	keyOut               = "out"
	keyProjectName       = "project-name"
	keyVars              = "vars"
	keyRuns              = "runs"
	keyIncludeTags       = "include-tags"
	keyExcludeTags       = "exclude-tags"
	keyMethods           = "methods"
	keyPaths             = "paths"
	keyIncludeOperations = "include-operations"
	keyExcludeOperations = "exclude-operations"
	keyNaming            = "naming"
	keyHTTPTimeout       = "http-timeout"
	keyDryRun            = "dry-run"
	keyForce             = "force"
	keySkipHooks         = "skip-hooks"
	keyStrict            = "strict"
	keyVerbose           = "verbose"
)

var configKeys = []string{
	keyInput, keyTemplate, keyTemplateDir, keyOut, keyProjectName, keyVars, keyRuns,
	keyIncludeTags, keyExcludeTags, keyMethods, keyPaths, keyIncludeOperations,
	keyExcludeOperations, keyNaming, keyHTTPTimeout, keyDryRun, keyForce,
	keySkipHooks, keyStrict, keyVerbose,
}

// canonicalKeys maps normalized spellings (camelCase, snake_case,
// kebab-case) to config keys.
var canonicalKeys = func() map[string]string {
	m := make(map[string]string, len(configKeys))
	for _, k := range configKeys {
		m[normalizeKey(k)] = k
	}
	return m
}()

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

// settings is the layered configuration of one command invocation.
type settings struct {
	*viper.Viper
	configPath string
	// fileVars are the config file's template variables and fileRuns its
	// extra runs. Both bypass viper, which lower-cases map keys.
	fileVars map[string]any
	fileRuns any
}

// newSettings layers defaults, the config file, MCPGEN_* environment
// variables and the command's flags, lowest precedence first.
func newSettings(cmd *cobra.Command) (*settings, error) {
	v := viper.New()
	v.SetDefault(keyTemplate, "go_server")
	v.SetDefault(keyNaming, "path")
	v.SetDefault(keyHTTPTimeout, "30s")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, k := range configKeys {
		if k == keyVars || k == keyRuns {
			continue
		}
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	s := &settings{Viper: v}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	s.configPath = strings.TrimSpace(configPath)
	if s.configPath != "" {
		values, err := readConfigFile(s.configPath)
		if err != nil {
			return nil, err
		}
		if s.fileVars, err = valueAsMap(values[keyVars]); err != nil {
			return nil, newUsageError(fmt.Sprintf("config field %q: %v", keyVars, err))
		}
		s.fileRuns = values[keyRuns]
		delete(values, keyVars)
		delete(values, keyRuns)
		if err := v.MergeConfigMap(values); err != nil {
			return nil, newUsageError(fmt.Sprintf("config file %q: %v", s.configPath, err))
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if _, known := canonicalKeys[normalizeKey(f.Name)]; !known || f.Name == keyVars {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}
	return s, nil
}

// readConfigFile decodes a YAML or JSON config file and rewrites its keys
// to canonical form. Unknown keys are usage errors.
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		canonical, ok := canonicalKeys[normalizeKey(key)]
		if !ok {
			return nil, newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
		}
		out[canonical] = value
	}
	return out, nil
}

// valueAsString accepts strings and nil.
func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return splitAndTrim(val), nil
	case []string:
		var items []string
		for _, s := range val {
			items = append(items, splitAndTrim(s)...)
		}
		return items, nil
	case []any:
		items := make([]string, 0, len(val))
		for idx, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			if str != "" {
				items = append(items, str)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n", "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func valueAsMap(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	default:
		return nil, fmt.Errorf("expected mapping, got %T", v)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
