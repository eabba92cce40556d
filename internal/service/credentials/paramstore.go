package credentials

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamStore reads named secrets from SSM Parameter Store under a prefix,
// e.g. /astrobot/openai_api_key.
type ParamStore struct {
	api    ssmAPI
	prefix string
	names  []string
}

func NewParamStore(api ssmAPI, prefix string, names ...string) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("credentials: ssm api must not be nil")
	}
	if len(names) == 0 {
		return nil, errors.New("credentials: no parameter names")
	}
	return &ParamStore{api: api, prefix: prefix, names: names}, nil
}

func (p *ParamStore) Name() string {
	return "ssm"
}

// Fetch reads every configured parameter. A missing parameter fails the
// whole fetch so that a half-populated set is never installed.
func (p *ParamStore) Fetch(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(p.names))
	for _, name := range p.names {
		value, err := p.get(ctx, path.Join("/", p.prefix, name))
		if err != nil {
			return nil, err
		}
		values[name] = value
	}
	return values, nil
}

func (p *ParamStore) get(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("credentials: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("credentials: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}
