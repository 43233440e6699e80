package poolfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Poolfile parameters, available in the template as {{ param "key" }}
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Read loads a poolfile from disk, evaluates it as a Go template, and
// validates the result.
func Read(file string, options ReadOptions) (*Poolfile, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	var poolfile Poolfile
	if err = yaml.Unmarshal([]byte(source), &poolfile); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err = poolfile.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return &poolfile, nil
}

func evaluateTemplate(source string, options ReadOptions) (string, error) {
	tmpl, err := template.New("poolfile").Funcs(template.FuncMap{
		"base64": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"env": func(key string) string {
			return os.Getenv(key)
		},
		"json": func(v any) (string, error) {
			buf, err := json.Marshal(v)
			return string(buf), err
		},
		"lines": func(s string) []string {
			return strings.Split(s, "\n")
		},
		"param": func(key string) (string, error) {
			value, ok := options.Params[key]
			if !ok {
				return "", fmt.Errorf("missing parameter '%s'", key)
			}
			return value, nil
		},
		"split": func(sep string, s string) []string {
			return strings.Split(s, sep)
		},
	}).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, nil); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return sb.String(), nil
}
