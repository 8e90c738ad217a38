package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmCallTimeout bounds each individual Parameter Store call.
const ssmCallTimeout = 15 * time.Second

// ssmAPI is the slice of the SSM client the bootstrap needs.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// paramStore reads and writes one environment's slice of Parameter Store.
type paramStore struct {
	api ssmAPI
	env string
	log *slog.Logger
}

func newParamStore(target *deployTarget) *paramStore {
	return &paramStore{api: ssm.NewFromConfig(target.AWS), env: target.Env, log: target.Log}
}

func paramStoreWith(api ssmAPI, env string, log *slog.Logger) *paramStore {
	return &paramStore{api: api, env: env, log: log}
}

// path expands an inventory key to the full parameter name. The layout
// matches what the service config loader resolves at startup.
func (s *paramStore) path(key string) string {
	return fmt.Sprintf("/%s/turfwatch/%s", s.env, key)
}

// exists reports whether path currently holds a parameter. The value is
// not needed, so decryption is skipped.
func (s *paramStore) exists(ctx context.Context, path string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, ssmCallTimeout)
	defer cancel()

	_, err := s.api.GetParameter(callCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// read returns the stored value at path, decrypting SecureStrings when
// decrypt is set.
func (s *paramStore) read(ctx context.Context, path string, decrypt bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, ssmCallTimeout)
	defer cancel()

	out, err := s.api.GetParameter(callCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}
	return *out.Parameter.Value, nil
}

// write stores value at path, as a SecureString when secure is set. With
// overwrite unset an existing parameter is reported as an error rather
// than replaced; the runner resolves that with the operator first.
func (s *paramStore) write(ctx context.Context, path, value string, secure, overwrite bool) error {
	if path == "" {
		return errors.New("parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("refusing to store empty value at %q", path)
	}

	paramType := ssmtypes.ParameterTypeString
	if secure {
		paramType = ssmtypes.ParameterTypeSecureString
	}

	callCtx, cancel := context.WithTimeout(ctx, ssmCallTimeout)
	defer cancel()

	_, err := s.api.PutParameter(callCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var already *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &already) {
			return fmt.Errorf("SSM parameter %q already exists and overwrite was not requested", path)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	if secure {
		s.log.Info("stored parameter", "path", path, "type", "SecureString", "value_length", len(value))
	} else {
		s.log.Info("stored parameter", "path", path, "type", "String", "value", value)
	}
	return nil
}
