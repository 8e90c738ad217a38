package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the GetParameters API cap on names per call.
const ssmMaxBatchSize = 10

// ssmClient is the slice of the SSM API the provider needs; tests supply a
// fake.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves secrets from AWS Systems Manager Parameter Store.
// Deployed environments keep the database URL and upstream provider API keys
// there as SecureString parameters; this provider decrypts them at startup.
// Parameters must live in the same region the service runs in.
type SSMProvider struct {
	region string

	// client is built lazily so constructing the provider never touches AWS.
	client ssmClient
}

var _ SecretProvider = (*SSMProvider)(nil)

// NewSSMProvider returns a provider reading Parameter Store in region.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	return &SSMProvider{region: region, client: client}
}

// GetParametersBatch decrypts and returns the named parameters keyed by
// path. Names go out in chunks of ssmMaxBatchSize, with cancellation checked
// between chunks so a Lambda deadline aborts promptly. Any name SSM does not
// recognize fails the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(keys))
	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during SSM parameter retrieval: %w", err)
		}
		chunk := keys[start:min(start+ssmMaxBatchSize, len(keys))]
		if err := p.fetchChunk(ctx, chunk, values); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// fetchChunk resolves one GetParameters call worth of names into dst.
func (p *SSMProvider) fetchChunk(ctx context.Context, names []string, dst map[string]string) error {
	out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("SSM GetParameters for %d names: %w", len(names), err)
	}
	if len(out.InvalidParameters) > 0 {
		return fmt.Errorf("SSM parameters not found: %v", out.InvalidParameters)
	}
	for _, param := range out.Parameters {
		if param.Name != nil && param.Value != nil {
			dst[*param.Name] = *param.Value
		}
	}
	return nil
}

// ensureClient builds the real SSM client on first use.
func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
	}
	p.client = ssm.NewFromConfig(cfg)
	return nil
}
