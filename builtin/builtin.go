// Package builtin provides a generic step library for driving command line
// tools and HTTP endpoints from feature files.
package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/registry"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// World is the per-scenario state of the built-in steps.
type World struct {
	Vars map[string]string
	// Dir is a scratch directory commands run in. It is removed after the
	// scenario.
	Dir string

	Stdout   string
	Stderr   string
	ExitCode int
	ran      bool

	HTTPStatus int
	HTTPBody   string
}

// NewWorld creates a World with a fresh scratch directory.
func NewWorld(_ context.Context) (registry.World, error) {
	dir, err := os.MkdirTemp("", "op-behave-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &World{Vars: make(map[string]string), Dir: dir}, nil
}

// Expand replaces ${name} references with scenario variables. Unknown
// names expand to the empty string.
func (w *World) Expand(s string) string {
	return os.Expand(s, func(name string) string { return w.Vars[name] })
}

// Register adds the built-in steps, the World factory and the cleanup hook
// to reg.
func Register(reg *registry.Registry, logger log.Logger) error {
	if logger == nil {
		logger = log.New()
	}
	s := &steps{log: logger.New("component", "builtin")}

	return errors.Join(
		reg.SetWorld(NewWorld),
		reg.After(s.cleanup, registry.WithHookName("remove scratch directory")),

		reg.Given(`^the variable "([^"]*)" is "([^"]*)"$`, s.setVar),
		reg.Given(`^a file "([^"]*)" containing:$`, s.writeFile),
		reg.Step(`^I wait (\S+)$`, s.wait, registry.WithArgTypes(registry.ArgDuration)),
		reg.When(`^I run "(.*)"$`, s.run),
		reg.When(`^I run the script:$`, s.runScript),
		reg.When(`I send a GET request to {string}`, s.get),

		reg.Then(`^the command (succeeds|fails)$`, s.commandResult),
		reg.Then(`the exit code is {int}`, s.exitCode),
		reg.Then(`^(stdout|stderr) contains "(.*)"$`, s.outputContains),
		reg.Then(`^(stdout|stderr) does not contain "(.*)"$`, s.outputNotContains),
		reg.Then(`^(stdout|stderr) matches "(.*)"$`, s.outputMatches),
		reg.Then(`^the variable "([^"]*)" equals "([^"]*)"$`, s.varEquals),
		reg.Then(`the response status is {int}`, s.responseStatus),
		reg.Then(`the response body contains {string}`, s.responseContains),
	)
}

type steps struct {
	log log.Logger
}

func world(w registry.World) (*World, error) {
	bw, ok := w.(*World)
	if !ok {
		return nil, fmt.Errorf("built-in steps need a *builtin.World, got %T", w)
	}
	return bw, nil
}

func (s *steps) cleanup(_ context.Context, w registry.World, unit *types.Unit, _ types.Status) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	if bw.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(bw.Dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", bw.Dir, err)
	}
	s.log.Debug("Removed scratch directory", "scenario", unit.ID(), "dir", bw.Dir)
	return nil
}

func (s *steps) setVar(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	bw.Vars[args.String(0)] = bw.Expand(args.String(1))
	return nil
}

func (s *steps) writeFile(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	name := bw.Expand(args.String(0))
	if strings.Contains(name, "..") {
		return fmt.Errorf("file name %q must stay inside the scratch directory", name)
	}
	return os.WriteFile(filepath.Join(bw.Dir, name), []byte(bw.Expand(args.DocString())), 0644)
}

func (s *steps) wait(ctx context.Context, _ registry.World, args *registry.Args) error {
	timer := time.NewTimer(args.Duration(0))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *steps) run(ctx context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	return s.shell(ctx, bw, bw.Expand(args.String(0)))
}

func (s *steps) runScript(ctx context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	return s.shell(ctx, bw, bw.Expand(args.DocString()))
}

// shell runs script with sh. A non-zero exit code is recorded, not
// returned; only failing to start the command is an error.
func (s *steps) shell(ctx context.Context, bw *World, script string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = bw.Dir
	cmd.Env = os.Environ()
	for k, v := range bw.Vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.log.Debug("Running command", "script", script, "dir", bw.Dir)
	err := cmd.Run()

	bw.Stdout, bw.Stderr, bw.ran = stdout.String(), stderr.String(), true
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		bw.ExitCode = 0
	case errors.As(err, &exitErr):
		bw.ExitCode = exitErr.ExitCode()
	default:
		return fmt.Errorf("failed to run command: %w", err)
	}
	return nil
}

func (s *steps) ranCommand(w registry.World) (*World, error) {
	bw, err := world(w)
	if err != nil {
		return nil, err
	}
	if !bw.ran {
		return nil, errors.New("no command has been run in this scenario")
	}
	return bw, nil
}

func (s *steps) commandResult(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := s.ranCommand(w)
	if err != nil {
		return err
	}
	want := args.String(0)
	if (want == "succeeds") != (bw.ExitCode == 0) {
		return fmt.Errorf("expected the command to %s, exit code %d\nstderr: %s", strings.TrimSuffix(want, "s"), bw.ExitCode, bw.Stderr)
	}
	return nil
}

func (s *steps) exitCode(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := s.ranCommand(w)
	if err != nil {
		return err
	}
	if want := int(args.Int(0)); bw.ExitCode != want {
		return fmt.Errorf("expected exit code %d, got %d", want, bw.ExitCode)
	}
	return nil
}

func (s *steps) output(w registry.World, stream string) (string, error) {
	bw, err := s.ranCommand(w)
	if err != nil {
		return "", err
	}
	if stream == "stderr" {
		return bw.Stderr, nil
	}
	return bw.Stdout, nil
}

func (s *steps) outputContains(_ context.Context, w registry.World, args *registry.Args) error {
	out, err := s.output(w, args.String(0))
	if err != nil {
		return err
	}
	bw, _ := world(w)
	if want := bw.Expand(args.String(1)); !strings.Contains(out, want) {
		return fmt.Errorf("expected %s to contain %q, got %q", args.String(0), want, out)
	}
	return nil
}

func (s *steps) outputNotContains(_ context.Context, w registry.World, args *registry.Args) error {
	out, err := s.output(w, args.String(0))
	if err != nil {
		return err
	}
	bw, _ := world(w)
	if unwanted := bw.Expand(args.String(1)); strings.Contains(out, unwanted) {
		return fmt.Errorf("expected %s not to contain %q, got %q", args.String(0), unwanted, out)
	}
	return nil
}

func (s *steps) outputMatches(_ context.Context, w registry.World, args *registry.Args) error {
	out, err := s.output(w, args.String(0))
	if err != nil {
		return err
	}
	re, err := regexp.Compile(args.String(1))
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if !re.MatchString(out) {
		return fmt.Errorf("expected %s to match %q, got %q", args.String(0), args.String(1), out)
	}
	return nil
}

func (s *steps) varEquals(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	name, want := args.String(0), bw.Expand(args.String(1))
	if got, ok := bw.Vars[name]; !ok || got != want {
		return fmt.Errorf("expected variable %q to equal %q, got %q", name, want, got)
	}
	return nil
}

func (s *steps) get(ctx context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	url := bw.Expand(args.String(0))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	bw.HTTPStatus, bw.HTTPBody = resp.StatusCode, string(body)
	return nil
}

func (s *steps) responseStatus(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	if want := int(args.Int(0)); bw.HTTPStatus != want {
		return fmt.Errorf("expected response status %d, got %d", want, bw.HTTPStatus)
	}
	return nil
}

func (s *steps) responseContains(_ context.Context, w registry.World, args *registry.Args) error {
	bw, err := world(w)
	if err != nil {
		return err
	}
	if want := bw.Expand(args.String(0)); !strings.Contains(bw.HTTPBody, want) {
		return fmt.Errorf("expected response body to contain %q, got %q", want, bw.HTTPBody)
	}
	return nil
}
