// Command bootstrap provisions the SSM parameters a new environment needs
// before its first deployment: verified external credentials, generated
// internal secrets, and placeholders the deploy pipeline fills in later.
//
// Run it once per environment from an operator machine with AWS access:
//
//	bootstrap --env dev --profile turfwatch-dev
//
// The tool is idempotent. Parameters that already hold a value are left
// alone unless the operator explicitly chooses to replace them, so it is
// safe to re-run after a partial session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// errAborted means the operator declined the production confirmation.
// Nothing was written, so the process exits cleanly.
var errAborted = errors.New("aborted by operator")

// deployEnvs are the environments backed by Parameter Store. Local
// development reads .env files instead and never bootstraps.
var deployEnvs = map[string]bool{"dev": true, "staging": true, "prod": true}

func main() {
	var (
		env          = flag.String("env", "", "target environment: dev, staging, or prod (required)")
		profile      = flag.String("profile", "", "AWS profile to authenticate with (default: ambient credentials)")
		region       = flag.String("region", "us-east-1", "AWS region holding the parameters")
		skipOptional = flag.Bool("skip-optional", false, "skip optional parameters without prompting")
		exportEnv    = flag.Bool("export-env", false, "after bootstrapping, write the stored parameters to an env file")
		exportPath   = flag.String("export-env-path", ".env", "destination for --export-env")
	)
	flag.Parse()

	if *env == "" {
		fmt.Fprintln(os.Stderr, "--env is required")
		flag.Usage()
		os.Exit(1)
	}
	if !deployEnvs[*env] {
		fmt.Fprintf(os.Stderr, "unknown environment %q; expected dev, staging, or prod\n", *env)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, runOptions{
		Env:          *env,
		Profile:      *profile,
		Region:       *region,
		SkipOptional: *skipOptional,
		ExportEnv:    *exportEnv,
		ExportPath:   *exportPath,
		Log:          log,
	})
	if errors.Is(err, errAborted) {
		fmt.Fprintln(os.Stderr, "Aborted. Nothing was written.")
		return
	}
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	Env          string
	Profile      string
	Region       string
	SkipOptional bool
	ExportEnv    bool
	ExportPath   string
	Log          *slog.Logger
}

func run(ctx context.Context, opts runOptions) error {
	target, err := openTarget(ctx, opts)
	if err != nil {
		return err
	}

	if target.Env == "prod" && !confirmProd(target, os.Stdin, os.Stderr) {
		return errAborted
	}

	printTarget(target, os.Stderr)

	r := newRunner(target)
	r.skipOptional = opts.SkipOptional
	if err := r.run(ctx); err != nil {
		return err
	}
	target.Log.Info("bootstrap complete", "env", target.Env, "account", target.AccountID, "region", target.Region)

	if !opts.ExportEnv {
		return nil
	}
	return writeEnvFile(ctx, envExport{
		OutputPath:        opts.ExportPath,
		Env:               target.Env,
		Store:             newParamStore(target),
		Stderr:            os.Stderr,
		WithLocalDefaults: target.Env == "dev",
	})
}

// deployTarget is the verified AWS identity and environment one bootstrap
// session operates on.
type deployTarget struct {
	Env       string
	Profile   string
	Region    string
	AccountID string
	CallerARN string
	AWS       aws.Config
	Log       *slog.Logger
}

// openTarget loads AWS credentials and proves them with an STS call before
// any prompt, so credential problems surface immediately.
func openTarget(ctx context.Context, opts runOptions) (*deployTarget, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	whoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(whoCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS credentials: %w", err)
	}

	target := &deployTarget{
		Env:     opts.Env,
		Profile: opts.Profile,
		Region:  opts.Region,
		AWS:     cfg,
		Log:     opts.Log,
	}
	if identity.Account != nil {
		target.AccountID = *identity.Account
	}
	if identity.Arn != nil {
		target.CallerARN = *identity.Arn
	}
	target.Log.Info("AWS credentials verified", "account", target.AccountID, "caller", target.CallerARN)
	return target, nil
}

// confirmProd requires a typed "yes" before a production session starts.
func confirmProd(target *deployTarget, in io.Reader, out io.Writer) bool {
	fmt.Fprintf(out, "\nThis session will write parameters for PRODUCTION (account %s, region %s).\n", target.AccountID, target.Region)
	fmt.Fprint(out, "Type \"yes\" to continue: ")

	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func printTarget(target *deployTarget, out io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(out, "\n%s\n  TurfWatch environment bootstrap\n%s\n", rule, rule)
	fmt.Fprintf(out, "  Environment: %s\n", target.Env)
	fmt.Fprintf(out, "  Account:     %s\n", target.AccountID)
	fmt.Fprintf(out, "  Region:      %s\n", target.Region)
	if target.Profile != "" {
		fmt.Fprintf(out, "  Profile:     %s\n", target.Profile)
	}
}
