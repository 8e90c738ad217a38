package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// maxAttempts bounds how many rejected values the operator may enter for
// one parameter before the run aborts.
const maxAttempts = 5

// errStepSkipped signals that the operator declined to provide a value.
var errStepSkipped = errors.New("skipped by operator")

type stepAction int

const (
	actionStored stepAction = iota
	actionReplaced
	actionMinted
	actionSkipped
)

func (a stepAction) String() string {
	switch a {
	case actionStored:
		return "stored"
	case actionReplaced:
		return "replaced"
	case actionMinted:
		return "minted"
	case actionSkipped:
		return "skipped"
	}
	return "unknown"
}

type stepOutcome struct {
	label  string
	path   string
	action stepAction
}

var (
	keepOrReplace = map[string]string{
		"k": "keep", "keep": "keep",
		"r": "replace", "replace": "replace",
	}
	skipOrRetry = map[string]string{
		"s": "skip", "skip": "skip",
		"t": "try", "try": "try",
	}
)

// runner walks the parameter inventory interactively, storing each value
// in SSM as it goes. All prompts and answers flow through in/out so tests
// can script a full session.
type runner struct {
	store        *paramStore
	checks       *checker
	in           io.Reader
	out          io.Writer
	skipOptional bool

	// scan is created lazily on first read so the whole session shares
	// one buffer over in.
	scan *bufio.Scanner

	// inventory overrides parameterInventory when non-nil.
	inventory []paramSpec
}

func newRunner(target *deployTarget) *runner {
	return &runner{
		store:  newParamStore(target),
		checks: newChecker(),
		in:     os.Stdin,
		out:    os.Stderr,
	}
}

// run executes every inventory step in order and prints a closing review.
// A step error aborts the run; everything stored so far stays stored.
func (r *runner) run(ctx context.Context) error {
	specs := r.inventory
	if specs == nil {
		specs = parameterInventory(r.checks)
	}

	outcomes := make([]stepOutcome, 0, len(specs))
	phase := ""
	for i, spec := range specs {
		if spec.Phase != phase {
			phase = spec.Phase
			r.banner(phase)
		}
		fmt.Fprintf(r.out, "\n[%d/%d] %s\n", i+1, len(specs), spec.Label)

		outcome, err := r.applyStep(ctx, spec)
		if err != nil {
			return fmt.Errorf("%s: %w", spec.Label, err)
		}
		outcomes = append(outcomes, outcome)
	}

	r.review(outcomes)
	return nil
}

// applyStep resolves one parameter: honor --skip-optional, ask before
// touching an existing value, obtain the new value, and write it.
func (r *runner) applyStep(ctx context.Context, spec paramSpec) (stepOutcome, error) {
	outcome := stepOutcome{label: spec.Label, path: r.store.path(spec.Key)}

	if spec.Optional && r.skipOptional {
		fmt.Fprintln(r.out, "  Skipped (--skip-optional).")
		outcome.action = actionSkipped
		return outcome, nil
	}

	exists, err := r.store.exists(ctx, outcome.path)
	if err != nil {
		return outcome, fmt.Errorf("checking %s: %w", outcome.path, err)
	}
	if exists {
		fmt.Fprintf(r.out, "  %s already holds a value.\n", outcome.path)
		choice, err := r.choose("  [K]eep it or [R]eplace it? ", keepOrReplace)
		if err != nil {
			return outcome, fmt.Errorf("reading keep/replace choice: %w", err)
		}
		if choice == "keep" {
			fmt.Fprintln(r.out, "  Kept.")
			outcome.action = actionSkipped
			return outcome, nil
		}
	}

	value, err := r.valueFor(ctx, spec)
	if errors.Is(err, errStepSkipped) {
		fmt.Fprintln(r.out, "  Skipped.")
		outcome.action = actionSkipped
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}

	if err := r.store.write(ctx, outcome.path, value, spec.Secure, exists); err != nil {
		return outcome, fmt.Errorf("storing %s: %w", outcome.path, err)
	}
	fmt.Fprintf(r.out, "  Stored %s.\n", outcome.path)

	switch {
	case exists:
		outcome.action = actionReplaced
	case spec.Generate:
		outcome.action = actionMinted
	default:
		outcome.action = actionStored
	}
	return outcome, nil
}

// valueFor produces the parameter value from the spec's declared origin.
func (r *runner) valueFor(ctx context.Context, spec paramSpec) (string, error) {
	switch {
	case spec.Generate:
		token, err := mintToken()
		if err != nil {
			return "", fmt.Errorf("minting value: %w", err)
		}
		fmt.Fprintf(r.out, "  Generated locally (%d characters).\n", len(token))
		return token, nil
	case spec.Placeholder != "":
		fmt.Fprintf(r.out, "  Writing placeholder %q for the deploy pipeline to replace.\n", spec.Placeholder)
		return spec.Placeholder, nil
	default:
		return r.collectInput(ctx, spec)
	}
}

// collectInput prompts until the operator enters a value the spec's check
// accepts, skips, or burns through maxAttempts. A bare Enter skips optional
// parameters directly and does not consume an attempt for required ones.
func (r *runner) collectInput(ctx context.Context, spec paramSpec) (string, error) {
	fmt.Fprintf(r.out, "\n  %s\n", spec.Guide)

	for left := maxAttempts; left > 0; {
		raw, err := r.ask(spec.Secure)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		raw = strings.TrimSpace(raw)

		if raw == "" {
			if spec.Optional {
				return "", errStepSkipped
			}
			choice, err := r.choose("  Nothing entered. [S]kip this parameter or [T]ry again? ", skipOrRetry)
			if err != nil {
				return "", fmt.Errorf("reading skip/try choice: %w", err)
			}
			if choice == "skip" {
				return "", errStepSkipped
			}
			continue
		}

		if spec.Secure {
			fmt.Fprintf(r.out, "  Read %d characters.\n", len(raw))
		}

		if spec.Check == nil {
			return raw, nil
		}
		result := spec.Check(ctx, raw)
		if result.OK {
			fmt.Fprintf(r.out, "  OK: %s\n", result.Detail)
			return raw, nil
		}

		left--
		fmt.Fprintf(r.out, "  Rejected: %s\n", result.Detail)
		if left > 0 {
			fmt.Fprintf(r.out, "  %d attempts left.\n", left)
		}
	}

	return "", fmt.Errorf("no valid value after %d attempts", maxAttempts)
}

// ask reads one value from the operator. Secure values are read without
// echo when in is an interactive terminal; otherwise (pipes, tests) they
// fall back to a plain line read.
func (r *runner) ask(masked bool) (string, error) {
	fmt.Fprint(r.out, "  > ")
	if masked {
		if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			raw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(r.out)
			if err != nil {
				return "", fmt.Errorf("masked read: %w", err)
			}
			return string(raw), nil
		}
	}
	return r.readLine()
}

// choose repeats question until the answer matches a key in accept and
// returns the canonical form.
func (r *runner) choose(question string, accept map[string]string) (string, error) {
	for {
		fmt.Fprint(r.out, question)
		line, err := r.readLine()
		if err != nil {
			return "", err
		}
		if canonical, ok := accept[strings.ToLower(strings.TrimSpace(line))]; ok {
			return canonical, nil
		}
		fmt.Fprintln(r.out, "  Unrecognized choice.")
	}
}

func (r *runner) readLine() (string, error) {
	if r.scan == nil {
		r.scan = bufio.NewScanner(r.in)
	}
	if !r.scan.Scan() {
		if err := r.scan.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scan.Text(), nil
}

func (r *runner) banner(phase string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(r.out, "\n%s\n  %s\n%s\n", rule, phase, rule)
}

// review prints one line per step plus totals so the operator can see at a
// glance what the session changed.
func (r *runner) review(outcomes []stepOutcome) {
	rule := strings.Repeat("-", 60)
	fmt.Fprintf(r.out, "\n%s\n  Session review\n%s\n", rule, rule)

	counts := map[stepAction]int{}
	for _, outcome := range outcomes {
		counts[outcome.action]++
		fmt.Fprintf(r.out, "  [%-8s] %-28s %s\n", strings.ToUpper(outcome.action.String()), outcome.label, outcome.path)
	}

	written := counts[actionStored] + counts[actionReplaced] + counts[actionMinted]
	fmt.Fprintf(r.out, "\n  %d written (%d new, %d replaced, %d generated), %d skipped.\n",
		written, counts[actionStored], counts[actionReplaced], counts[actionMinted], counts[actionSkipped])
	if written > 0 {
		fmt.Fprintln(r.out, "  Deploy the infrastructure stack next; it replaces the queue placeholders.")
	}
}
