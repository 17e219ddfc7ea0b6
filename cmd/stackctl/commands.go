package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/stackctl/internal/catalog"
	"github.com/artpar/stackctl/internal/core/render"
	"github.com/artpar/stackctl/internal/core/status"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/docker"
	"github.com/artpar/stackctl/internal/shell/remote"
)

// =============================================================================
// Shared Flags
// =============================================================================

// stringSlice accumulates repeated flag values.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// topologyFlags are the flags shared by every pipeline command.
type topologyFlags struct {
	file     string
	envName  string
	profiles stringSlice
}

func (f *topologyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.file, "f", "", "Topology file (default: load a catalog environment by name)")
	fs.StringVar(&f.envName, "env", "", "Environment name override")
	fs.Var(&f.profiles, "profile", "Enable a profile (repeatable)")
}

// load resolves the topology source: an explicit file wins, otherwise the
// first positional argument names a catalog environment.
func (f *topologyFlags) load(args []string) (*topology.Environment, error) {
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("read topology file: %w", err)
		}
		name := f.envName
		if name == "" {
			name = environmentNameFromPath(f.file)
		}
		return topology.Load(name, string(data))
	}

	if len(args) < 1 {
		return nil, fmt.Errorf("no topology given: pass -f <file> or a catalog environment name")
	}
	env, err := catalog.Load(args[0])
	if err != nil {
		return nil, err
	}
	if f.envName != "" {
		env.Name = f.envName
	}
	return env, nil
}

// environmentNameFromPath derives an environment name from a file path:
// "deploy/goerli.yml" becomes "goerli".
func environmentNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// Variable Collection
// =============================================================================

// gatherVariables merges the variable file (if any) with explicit --var
// flags. Explicit flags win.
func gatherVariables(varFile string, vars []string) (map[string]string, error) {
	out := make(map[string]string)

	if varFile != "" {
		fromFile, err := parseVarFile(varFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			out[k] = v
		}
	}

	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected KEY=VALUE", kv)
		}
		out[key] = value
	}

	return out, nil
}

// parseVarFile reads KEY=VALUE lines; blank lines and # comments are skipped.
func parseVarFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read variable file: %w", err)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			vars[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read variable file: %w", err)
	}
	return vars, nil
}

// =============================================================================
// Pipeline Commands
// =============================================================================

func validateCmd(args []string) int {
	var tf topologyFlags
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	tf.register(fs)
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	if verr := topology.Validate(env, tf.profiles); verr != nil {
		for _, v := range verr.Violations {
			fmt.Fprintln(os.Stderr, v.String())
		}
		fmt.Fprintf(os.Stderr, "%s: %d violation(s)\n", env.Name, len(verr.Violations))
		return ExitValidation
	}

	fmt.Printf("%s: ok\n", env.Name)
	return ExitSuccess
}

func resolveCmd(args []string) int {
	var tf topologyFlags
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	tf.register(fs)
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	res, err := topology.Resolve(env, tf.profiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	for i, name := range res.StartOrder() {
		fmt.Printf("%d. %s\n", i+1, name)
	}
	return ExitSuccess
}

func renderCmd(args []string) int {
	var tf topologyFlags
	var vars stringSlice
	var varFile, output string
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	tf.register(fs)
	fs.Var(&vars, "var", "Set a variable as KEY=VALUE (repeatable)")
	fs.StringVar(&varFile, "var-file", "", "Read variables from a KEY=VALUE file")
	fs.StringVar(&output, "o", "", "Write the document to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	doc, env, code := renderPipeline(&tf, fs.Args(), varFile, vars)
	if code != ExitSuccess {
		return code
	}

	if output != "" {
		if err := os.WriteFile(output, doc, 0644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitEngine
		}
		fmt.Fprintf(os.Stderr, "%s: wrote %s\n", env.Name, output)
		return ExitSuccess
	}

	os.Stdout.Write(doc)
	return ExitSuccess
}

// renderPipeline runs load -> validate -> resolve -> render and reports the
// first failing stage's exit code.
func renderPipeline(tf *topologyFlags, args []string, varFile string, vars []string) ([]byte, *topology.Environment, int) {
	env, err := tf.load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, classifyExit(err)
	}

	if verr := topology.Validate(env, tf.profiles); verr != nil {
		for _, v := range verr.Violations {
			fmt.Fprintln(os.Stderr, v.String())
		}
		return nil, nil, ExitValidation
	}

	res, err := topology.Resolve(env, tf.profiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, classifyExit(err)
	}

	variables, err := gatherVariables(varFile, vars)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, ExitUsage
	}

	doc, err := render.Render(env, res, variables)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, classifyExit(err)
	}

	return doc, env, ExitSuccess
}

// =============================================================================
// Engine Commands
// =============================================================================

// sshFlags configure remote application over SSH.
type sshFlags struct {
	addr string
	user string
	key  string
	port int
}

func (f *sshFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.addr, "ssh", "", "Apply on a remote host (address) instead of the local engine")
	fs.StringVar(&f.user, "ssh-user", "root", "SSH user")
	fs.StringVar(&f.key, "ssh-key", "", "SSH private key file")
	fs.IntVar(&f.port, "ssh-port", 22, "SSH port")
}

func (f *sshFlags) runner(logger *slog.Logger) (*remote.Runner, error) {
	key, err := os.ReadFile(f.key)
	if err != nil {
		return nil, fmt.Errorf("read SSH key: %w", err)
	}
	return remote.NewRunner(remote.Host{Addr: f.addr, Port: f.port, User: f.user}, key, remote.DefaultConfig(), logger)
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func applyCmd(args []string) int {
	var tf topologyFlags
	var sf sshFlags
	var vars stringSlice
	var varFile, dockerHost string
	var pull bool
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	tf.register(fs)
	sf.register(fs)
	fs.Var(&vars, "var", "Set a variable as KEY=VALUE (repeatable)")
	fs.StringVar(&varFile, "var-file", "", "Read variables from a KEY=VALUE file")
	fs.StringVar(&dockerHost, "docker-host", "", "Docker host (default: environment)")
	fs.BoolVar(&pull, "pull", false, "Pull images even when present locally")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	logger := stderrLogger()
	ctx := context.Background()

	// Remote path: render and pipe to compose over SSH.
	if sf.addr != "" {
		doc, env, code := renderPipeline(&tf, fs.Args(), varFile, vars)
		if code != ExitSuccess {
			return code
		}
		runner, err := sf.runner(logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitEngine
		}
		defer runner.Close()

		out, err := runner.Up(ctx, env.Name, doc)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitEngine
		}
		fmt.Print(out)
		return ExitSuccess
	}

	// Local path: drive the engine directly.
	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}
	if verr := topology.Validate(env, tf.profiles); verr != nil {
		for _, v := range verr.Violations {
			fmt.Fprintln(os.Stderr, v.String())
		}
		return ExitValidation
	}
	res, err := topology.Resolve(env, tf.profiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}
	variables, err := gatherVariables(varFile, vars)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}

	applier, closeFn, err := newLocalApplier(dockerHost, tf.file, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	defer closeFn()

	applied, err := applier.Apply(ctx, env, res, docker.ApplyOptions{Variables: variables, Pull: pull})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code := classifyExit(err); code == ExitRender {
			return code
		}
		return ExitEngine
	}

	for _, svc := range applied {
		fmt.Printf("%s: %s\n", svc.Service, svc.State)
	}
	return ExitSuccess
}

func downCmd(args []string) int {
	var tf topologyFlags
	var sf sshFlags
	var dockerHost string
	var removeVolumes bool
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	tf.register(fs)
	sf.register(fs)
	fs.StringVar(&dockerHost, "docker-host", "", "Docker host (default: environment)")
	fs.BoolVar(&removeVolumes, "volumes", false, "Also remove named volumes")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	logger := stderrLogger()
	ctx := context.Background()

	if sf.addr != "" {
		doc, env, code := renderPipeline(&tf, fs.Args(), "", nil)
		if code != ExitSuccess {
			return code
		}
		runner, err := sf.runner(logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitEngine
		}
		defer runner.Close()

		out, err := runner.Down(ctx, env.Name, doc, removeVolumes)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitEngine
		}
		fmt.Print(out)
		return ExitSuccess
	}

	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	applier, closeFn, err := newLocalApplier(dockerHost, tf.file, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	defer closeFn()

	if err := applier.Down(ctx, env, removeVolumes); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	fmt.Printf("%s: down\n", env.Name)
	return ExitSuccess
}

func statusCmd(args []string) int {
	var tf topologyFlags
	var dockerHost string
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	tf.register(fs)
	fs.StringVar(&dockerHost, "docker-host", "", "Docker host (default: environment)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	logger := stderrLogger()
	applier, closeFn, err := newLocalApplier(dockerHost, tf.file, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	defer closeFn()

	health, states, err := applier.Status(context.Background(), env.Name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}

	for _, s := range states {
		fmt.Printf("%-24s %-12s %-10s restarts=%d\n",
			s.Service, s.State, string(status.ServiceHealth(s)), s.Restarts)
	}
	fmt.Printf("%s: %s\n", env.Name, health)
	return ExitSuccess
}

func logsCmd(args []string) int {
	var tf topologyFlags
	var dockerHost, tail string
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	tf.register(fs)
	fs.StringVar(&dockerHost, "docker-host", "", "Docker host (default: environment)")
	fs.StringVar(&tail, "tail", "100", "Number of log lines to show")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	env, err := tf.load(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return classifyExit(err)
	}

	rest := fs.Args()
	if tf.file == "" {
		rest = rest[1:] // first positional was the environment name
	}
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: stackctl logs [flags] <environment> <service>")
		return ExitUsage
	}
	service := rest[0]
	if env.Service(service) == nil {
		fmt.Fprintf(os.Stderr, "unknown service %q in environment %s\n", service, env.Name)
		return ExitUsage
	}

	logger := stderrLogger()
	applier, closeFn, err := newLocalApplier(dockerHost, tf.file, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	defer closeFn()

	out, err := applier.ServiceLogs(context.Background(), env.Name, service, tail)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}
	fmt.Print(out)
	return ExitSuccess
}

// newLocalApplier connects to the local engine. The work directory for
// relative bind mounts and env files is the topology file's directory.
func newLocalApplier(dockerHost, topologyFile string, logger *slog.Logger) (*docker.Applier, func(), error) {
	client, err := docker.NewDockerClient(dockerHost)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, nil, err
	}
	workDir := ""
	if topologyFile != "" {
		workDir = filepath.Dir(topologyFile)
	}
	return docker.NewApplier(client, logger, workDir), func() { client.Close() }, nil
}

// =============================================================================
// Catalog Commands
// =============================================================================

func catalogCmd(args []string) int {
	for _, name := range catalog.Environments() {
		env, err := catalog.Load(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		profiles := env.Profiles()
		if len(profiles) > 0 {
			fmt.Printf("%-20s profiles: %s\n", name, strings.Join(profiles, ", "))
		} else {
			fmt.Println(name)
		}
	}
	return ExitSuccess
}

func initCmd(args []string) int {
	var output string
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.StringVar(&output, "o", "", "Output file (default: <environment>.yml)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: stackctl init [-o file] <environment>")
		return ExitUsage
	}
	name := fs.Arg(0)

	source, err := catalog.Manifest(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v (known: %s)\n", err, strings.Join(catalog.Environments(), ", "))
		return ExitUsage
	}

	if output == "" {
		output = name + ".yml"
	}
	if _, err := os.Stat(output); err == nil {
		fmt.Fprintf(os.Stderr, "refusing to overwrite %s\n", output)
		return ExitUsage
	}
	if err := os.WriteFile(output, []byte(source), 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitEngine
	}

	fmt.Printf("wrote %s\n", output)
	return ExitSuccess
}
