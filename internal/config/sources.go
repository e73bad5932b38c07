package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"gopkg.in/yaml.v3"
)

// FileSource reads settings from a YAML file.
// Nested maps are flattened with "_", so `db: {host: x}` yields DB_HOST.
type FileSource struct {
	Path string
}

func (f *FileSource) Name() string {
	return "file:" + f.Path
}

func (f *FileSource) Load(ctx context.Context) (map[string]string, error) {
	return LoadYAMLFile(f.Path)
}

// LoadYAMLFile parses a YAML settings file into flat upper-case keys
func LoadYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
			parts := make([]string, len(val))
			for i, item := range val {
				parts[i] = fmt.Sprint(item)
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			// skip
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// SSMClientInterface is the subset of the SSM client used by SSMSource
type SSMClientInterface interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMSource reads settings from AWS SSM Parameter Store.
// "/civicdesk/prod/DB_PASSWORD" under path "/civicdesk/prod" yields DB_PASSWORD.
type SSMSource struct {
	SSM  SSMClientInterface
	Path string
}

func (s *SSMSource) Name() string {
	return "ssm:" + s.Path
}

func (s *SSMSource) Load(ctx context.Context) (map[string]string, error) {
	params := map[string]string{}
	prefix := strings.TrimSuffix(s.Path, "/") + "/"
	input := &ssm.GetParametersByPathInput{
		Path:           aws.String(s.Path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}

	for {
		output, err := s.SSM.GetParametersByPath(ctx, input)
		if err != nil {
			return nil, err
		}

		for _, param := range output.Parameters {
			if param.Name == nil || param.Value == nil {
				continue
			}
			key := strings.TrimPrefix(*param.Name, prefix)
			key = strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
			params[key] = *param.Value
		}

		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}
	return params, nil
}
