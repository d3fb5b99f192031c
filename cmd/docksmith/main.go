package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dockerregistry "github.com/docker/docker/api/types/registry"

	"github.com/chis/docksmith/internal/config"
	"github.com/chis/docksmith/internal/coordinator"
	"github.com/chis/docksmith/internal/docker"
	"github.com/chis/docksmith/internal/events"
	"github.com/chis/docksmith/internal/executor"
	"github.com/chis/docksmith/internal/logging"
	"github.com/chis/docksmith/internal/output"
	"github.com/chis/docksmith/internal/registry"
	"github.com/chis/docksmith/internal/report"
	"github.com/chis/docksmith/internal/scripts"
	"github.com/chis/docksmith/internal/selfupdate"
	"github.com/chis/docksmith/internal/version"
)

// runRunCommand wires C1-C12 into one end-to-end pass and prints the
// resulting report as JSON, matching the rest of the CLI's output style.
func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "/config/docksmith.yaml", "path to the configuration file")
	dryRun := fs.Bool("dry-run", false, "plan updates but make no changes")
	forceRun := fs.Bool("run", false, "apply updates even if the config sets general.dryRun")
	force := fs.Bool("force", false, "skip the run lock and proceed even if another run appears active")
	nameFilter := fs.String("containers", "", "comma-separated glob patterns restricting which containers are considered")
	logLevel := fs.String("log-level", "info", "debug|info|warning|error|critical")
	githubToken := fs.String("github-token", "", "GitHub token for GHCR access (overrides GITHUB_TOKEN env var)")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall run timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logging.SetDefault(logging.New())
	logging.Default().SetLevel(logging.ParseLevel(*logLevel))

	schema, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token := *githubToken
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	dockerService, err := docker.NewService()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer dockerService.Close()

	registryManager := registry.NewManager(token)
	registryAdapter := registry.NewAdapter(registryManager)

	hookRunner := scripts.NewHookRunner(schema.PreScripts.ScriptsDirectory, schema.PreScripts.Timeout)
	bus := events.NewBus()
	bus.Subscribe(events.EventStepTransition, func(e events.Event) {
		logging.Info("%v", e.Payload)
	})

	authResolver := newAuthResolver(schema)

	exec := executor.New(executor.Dependencies{
		Docker:       dockerService,
		Hooks:        hookRunner,
		Bus:          bus,
		AuthForImage: authResolver.authForImage,
	})

	coord := &coordinator.Coordinator{
		Docker:       dockerService,
		Registry:     registryAdapter,
		Executor:     exec,
		Schema:       schema,
		Extractor:    version.NewExtractor(),
		Parser:       version.NewParser(),
		SelfDetector: selfupdate.NewDetector(),
	}

	opts := coordinator.Options{
		DryRun:      *dryRun || (schema.General.DryRun && !*forceRun),
		Force:       *force,
		NameFilters: splitFilter(*nameFilter),
		LockPath:    defaultLockPath(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rep, err := coord.Run(ctx, opts)
	if err != nil {
		output.WriteJSON(os.Stdout, output.ErrorResponse(err))
		return err
	}

	if histPath := historyDBPath(); histPath != "" {
		if store, herr := report.NewHistoryStore(histPath); herr == nil {
			if serr := store.Save(ctx, rep); serr != nil {
				logging.Warn("persist report history: %v", serr)
			}
			store.Close()
		} else {
			logging.Warn("open report history db: %v", herr)
		}
	}

	return output.WriteJSON(os.Stdout, report.AsResponse(rep))
}

// historyDBPath returns where completed-run reports are persisted, or ""
// if history persistence is disabled (spec §3: the report trail is an
// optional sink, not load-bearing for a run's outcome).
func historyDBPath() string {
	return os.Getenv("DOCKSMITH_HISTORY_DB")
}

func splitFilter(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultLockPath() string {
	if p := os.Getenv("DOCKSMITH_LOCK_PATH"); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), "docksmith.lock")
}

// authResolver resolves a base64 registry-auth header for an image
// reference, preferring the explicit credentials file (spec §6
// registryAuth) and falling back to the local ~/.docker/config.json.
type authResolver struct {
	schema *config.Schema
	creds  *config.CredentialsFile
}

func newAuthResolver(schema *config.Schema) *authResolver {
	r := &authResolver{schema: schema}
	if schema.RegistryAuth.Enabled && schema.RegistryAuth.CredentialsFile != "" {
		if data, err := os.ReadFile(schema.RegistryAuth.CredentialsFile); err == nil {
			var cf config.CredentialsFile
			if err := json.Unmarshal(data, &cf); err == nil {
				r.creds = &cf
			}
		}
	}
	return r
}

func (r *authResolver) authForImage(imageRef string) string {
	registryHost, repository := splitImageRef(imageRef)

	if r.creds != nil {
		if cred, ok := r.creds.Repositories[repository]; ok {
			return encodeAuth(cred)
		}
		if cred, ok := r.creds.Registries[registryHost]; ok {
			return encodeAuth(cred)
		}
	}

	dockerConfigPath := os.Getenv("DOCKER_CONFIG_PATH")
	if dockerConfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dockerConfigPath = filepath.Join(home, ".docker", "config.json")
	}
	dc, err := config.ReadDockerConfig(dockerConfigPath)
	if err != nil {
		return ""
	}
	entry, ok := dc.Auths[registryHost]
	if !ok {
		return ""
	}
	username, password, err := config.DecodeAuth(entry.Auth)
	if err != nil {
		return ""
	}
	return encodeAuth(config.RegistryCredential{Username: username, Password: password})
}

func encodeAuth(cred config.RegistryCredential) string {
	authCfg := dockerregistry.AuthConfig{
		Username:      cred.Username,
		Password:      cred.Password,
		IdentityToken: cred.Token,
	}
	data, err := json.Marshal(authCfg)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

func splitImageRef(imageRef string) (registryHost, repository string) {
	idx := strings.Index(imageRef, "/")
	if idx == -1 {
		return "docker.io", imageRef
	}
	return imageRef[:idx], imageRef[idx+1:]
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: docksmith <command> [flags]")
		fmt.Fprintln(os.Stderr, "Available commands: run, debug")
		os.Exit(1)
	}

	command := os.Args[1]
	var err error

	switch command {
	case "run":
		err = runRunCommand(os.Args[2:])
	case "debug":
		runDebugMode()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nAvailable commands: run, debug\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDebugMode runs the debug/analysis mode (legacy direct-inspection path,
// useful for eyeballing a host's containers without a config file).
func runDebugMode() {
	githubToken := flag.String("github-token", "", "GitHub token for GHCR access (overrides GITHUB_TOKEN env var)")
	flag.CommandLine.Parse(os.Args[2:])

	token := *githubToken
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	dockerService, err := docker.NewService()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create Docker service:", err)
		os.Exit(1)
	}
	defer dockerService.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	containers, err := dockerService.ListContainers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to list containers:", err)
		os.Exit(1)
	}

	extractor := version.NewExtractor()
	registryManager := registry.NewManager(token)

	fmt.Printf("Found %d containers\n\n", len(containers))
	for _, c := range containers {
		info := extractor.ExtractFromImage(c.Image)
		if info.Version == nil {
			fmt.Printf("%s: %s (unparseable tag)\n", c.Name, c.Image)
			continue
		}
		fmt.Printf("%s: %s/%s @ %s\n", c.Name, info.Registry, info.Repository, info.Version.Original)

		tagCtx, tagCancel := context.WithTimeout(ctx, 10*time.Second)
		tags, err := registryManager.ListTags(tagCtx, info.Registry+"/"+info.Repository)
		tagCancel()
		if err != nil {
			fmt.Printf("  registry error: %v\n", err)
			continue
		}
		if len(tags) > 10 {
			tags = tags[:10]
		}
		fmt.Printf("  tags: %s\n", strings.Join(tags, ", "))
	}
}
