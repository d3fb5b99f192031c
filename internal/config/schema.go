package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema is the typed configuration consumed by the update pipeline,
// matching spec §6 exactly. It is produced by the out-of-scope config
// reader; this type is what that reader hands to the coordinator.
type Schema struct {
	General            General                    `yaml:"general"`
	Update             Update                     `yaml:"update"`
	UpdateVerification UpdateVerification         `yaml:"updateVerification"`
	Prune              Prune                      `yaml:"prune"`
	PreScripts         ScriptPolicy               `yaml:"preScripts"`
	PostScripts        ScriptPolicy               `yaml:"postScripts"`
	Docker             RegistryProfile            `yaml:"docker"`
	GHCR               RegistryProfile            `yaml:"ghcr"`
	RegistryAuth       RegistryAuth               `yaml:"registryAuth"`
	EnvFiltering       EnvFiltering               `yaml:"envFiltering"`
	AssignmentsByName  map[string]string          `yaml:"assignmentsByName"`
	Rules              map[string]Rule            `yaml:"rules"`
}

type General struct {
	DryRun       bool   `yaml:"dryRun"`
	CronSchedule string `yaml:"cronSchedule"`
}

type Update struct {
	DelayBetweenUpdates time.Duration `yaml:"delayBetweenUpdates"`
}

type UpdateVerification struct {
	MaxWait       time.Duration `yaml:"maxWait"`
	StableTime    time.Duration `yaml:"stableTime"`
	CheckInterval time.Duration `yaml:"checkInterval"`
	GracePeriod   time.Duration `yaml:"gracePeriod"`
}

type Prune struct {
	RemoveUnusedImages  bool          `yaml:"removeUnusedImages"`
	RemoveOldContainers bool          `yaml:"removeOldContainers"`
	MinBackupAge        time.Duration `yaml:"minBackupAge"`
	MinBackupsToKeep    int           `yaml:"minBackupsToKeep"`
}

type ScriptPolicy struct {
	Enabled           bool          `yaml:"enabled"`
	ScriptsDirectory  string        `yaml:"scriptsDirectory"`
	Timeout           time.Duration `yaml:"timeout"`
	ContinueOnFailure bool          `yaml:"continueOnFailure"` // pre-scripts
	RollbackOnFailure bool          `yaml:"rollbackOnFailure"` // post-scripts
}

type RegistryProfile struct {
	APIUrl         string `yaml:"apiUrl"`
	PageCrawlLimit int    `yaml:"pageCrawlLimit"` // [1,1000]
	PageSize       int    `yaml:"pageSize"`       // [1,100]
}

type RegistryCredential struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

type RegistryAuth struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// CredentialsFile is the schema of the file named by RegistryAuth.CredentialsFile.
type CredentialsFile struct {
	Registries   map[string]RegistryCredential `yaml:"registries"`
	Repositories map[string]RegistryCredential `yaml:"repositories"`
}

type ContainerEnvRule struct {
	Exclude  []string `yaml:"exclude"`
	Preserve []string `yaml:"preserve"`
}

type EnvFiltering struct {
	Enabled                bool                        `yaml:"enabled"`
	ExcludePatterns        []string                    `yaml:"excludePatterns"`
	PreservePatterns       []string                    `yaml:"preservePatterns"`
	ContainerSpecificRules map[string]ContainerEnvRule `yaml:"containerSpecificRules"`
}

// Rule is the policy object (spec §3): which DiffKinds are allowed, under
// what conditions, subject to a lag policy and a minimum image age.
type Rule struct {
	MinImageAge        time.Duration         `yaml:"minImageAge"`
	ProgressiveUpgrade bool                  `yaml:"progressiveUpgrade"`
	Allow              []string              `yaml:"allow"`
	Conditions         map[string]Condition  `yaml:"conditions"`
	LagPolicy          map[string]int        `yaml:"lagPolicy"`
}

type Condition struct {
	Require []string `yaml:"require"`
}

// BuiltinRules are the compiled-in defaults named in spec §6. YAML `rules`
// entries with the same name override these.
func BuiltinRules() map[string]Rule {
	return map[string]Rule{
		"default": {
			ProgressiveUpgrade: false,
			Allow:              []string{"patch", "minor", "digest", "build"},
		},
		"strict": {
			ProgressiveUpgrade: true,
			Allow:              []string{"patch", "build"},
			MinImageAge:        24 * time.Hour,
		},
		"patch_only": {
			Allow: []string{"patch", "build", "digest"},
		},
		"digest_only": {
			Allow: []string{"digest"},
		},
		"security_only": {
			Allow:       []string{"patch", "digest"},
			MinImageAge: 0,
		},
		"ci_cd": {
			Allow:       []string{"build", "digest"},
			MinImageAge: 0,
		},
		"conservative": {
			Allow:       []string{"patch"},
			MinImageAge: 72 * time.Hour,
		},
		"relaxed": {
			ProgressiveUpgrade: true,
			Allow:              []string{"patch", "minor", "major", "build", "digest"},
			Conditions: map[string]Condition{
				"major": {Require: []string{"minor", "patch", "build"}},
			},
			MinImageAge: 24 * time.Hour,
		},
		"permissive": {
			ProgressiveUpgrade: true,
			Allow:              []string{"patch", "minor", "major", "build", "digest", "scheme-change"},
		},
	}
}

// Load reads and validates a YAML configuration file, rejecting unknown
// keys at load time (spec §9: "unknown keys are errors, not warnings").
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	schema := defaultSchema()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(schema); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func defaultSchema() *Schema {
	return &Schema{
		UpdateVerification: UpdateVerification{
			MaxWait:       10 * time.Minute,
			StableTime:    30 * time.Second,
			CheckInterval: 2 * time.Second,
			GracePeriod:   10 * time.Second,
		},
		Prune: Prune{
			MinBackupAge:     24 * time.Hour,
			MinBackupsToKeep: 2,
		},
		Docker: RegistryProfile{APIUrl: "https://registry-1.docker.io", PageCrawlLimit: 20, PageSize: 25},
		GHCR:   RegistryProfile{APIUrl: "https://ghcr.io", PageCrawlLimit: 20, PageSize: 25},
		Rules:  BuiltinRules(),
	}
}
