package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"samplerelay/internal/listener"
)

var errBadParams = errors.New("invalid listener parameters")

func addParamFlags(fs *pflag.FlagSet) {
	fs.StringArrayP("param", "P", nil, "listener parameter as key=value (repeatable)")
	fs.String("params", "", "YAML file of listener parameters (mapping, order kept)")
	fs.Duration("match-timeout", listener.DefaultMatchTimeout, "bound on one regex sampler match; a label that times out fails that sample (negative disables)")
}

// loadParams layers the default listing, the YAML file and the key=value
// pairs, later sources overriding earlier ones.
func loadParams(file string, pairs []string) (listener.Params, error) {
	params := listener.DefaultParameters()

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(err, "read params file")
		}
		fromFile, err := parseParamsYAML(data)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", file)
		}
		for _, p := range fromFile {
			params = params.Set(p.Name, p.Value)
		}
	}

	fromFlags, err := parseParamPairs(pairs)
	if err != nil {
		return nil, err
	}
	for _, p := range fromFlags {
		params = params.Set(p.Name, p.Value)
	}
	return params, nil
}

// parseParamsYAML reads a flat mapping of scalars. Keys keep their case and
// document order; YAML booleans and numbers are kept as written.
func parseParamsYAML(data []byte) (listener.Params, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errBadParams, err.Error())
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.Wrapf(errBadParams, "line %d: expected a mapping", root.Line)
	}

	out := make(listener.Params, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind == yaml.AliasNode {
			val = val.Alias
		}
		if val.Kind != yaml.ScalarNode {
			return nil, errors.Wrapf(errBadParams, "line %d: %s must be a scalar", val.Line, key.Value)
		}
		value := val.Value
		if val.Tag == "!!null" {
			value = ""
		}
		out = append(out, listener.Param{Name: key.Value, Value: value})
	}
	return out, nil
}

func parseParamPairs(pairs []string) (listener.Params, error) {
	out := make(listener.Params, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, errors.Wrapf(errBadParams, "--param %q: want key=value", pair)
		}
		out = append(out, listener.Param{Name: name, Value: value})
	}
	return out, nil
}

// encodeParamsYAML renders params as an ordered YAML mapping.
func encodeParamsYAML(params listener.Params) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range params {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Value, Style: quoteStyle(p.Value)},
		)
	}
	return yaml.Marshal(root)
}

// quoteStyle keeps values that YAML would otherwise retype (empty, true,
// numbers) as strings.
func quoteStyle(v string) yaml.Style {
	var probe any
	if err := yaml.Unmarshal([]byte(v), &probe); err != nil {
		return yaml.DoubleQuotedStyle
	}
	if s, ok := probe.(string); ok && s == v {
		return 0
	}
	return yaml.DoubleQuotedStyle
}
