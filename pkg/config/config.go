// config is the package containing the inputs of a config check run,
// shared so they can be used by every subcommand of configci. Each
// setting can come from a settings file, an environment variable (as
// set by the GitHub workflow), or a command-line flag, with later
// sources taking precedence.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

const (
	SettingsVersion = "v1"

	DefaultSampleLimit   = 5
	DefaultConfigPattern = "*.json"
	DefaultInvitee       = "org-emee_1"
	DefaultInviteLevel   = "CONTRIBUTE"
	DefaultPollTimeout   = 12 * time.Hour
	DefaultArtifactDir   = "."
	DefaultBatchApp      = "eggd_dias_batch"
)

var configPathRegexp = regexp.MustCompile(`^project-\w+:/.*`)

type Config struct {
	// This is expected to be present in a settings file (and will not
	// correspond to a flag). If it is not equal to SettingsVersion
	// above, the file is considered invalid.
	Version string `yaml:"configciVersion"`

	DXAPIURL string  `yaml:"dxApiUrl"`
	DXToken  string  `yaml:"-"`
	DXRPS    float64 `yaml:"dxRps"`
	DXBurst  int     `yaml:"dxBurst"`

	ConfigPath      string   `yaml:"configPath"`
	ConfigPattern   string   `yaml:"configPattern"`
	ProdJobs        ProdJobs `yaml:"prodJobs"`
	SampleLimit     int      `yaml:"sampleLimit"`
	RunCNVCalling   bool     `yaml:"runCnvCalling"`
	Development     bool     `yaml:"development"`
	WorkflowBranch  string   `yaml:"workflowBranch"`
	PipelineVersion string   `yaml:"pipelineVersion"`
	BatchApp        string   `yaml:"batchApp"`

	Invitees    []string `yaml:"invitees"`
	InviteLevel string   `yaml:"inviteLevel"`

	ChangedFiles []string      `yaml:"-"`
	BaseRef      string        `yaml:"baseRef"`
	ArtifactDir  string        `yaml:"artifactDir"`
	PollTimeout  time.Duration `yaml:"pollTimeout"`
	PostStatus   bool          `yaml:"postStatus"`
}

// Defaults returns the settings used where nothing else is given.
func Defaults() Config {
	return Config{
		Version:       SettingsVersion,
		DXAPIURL:      "https://api.dnanexus.com",
		DXRPS:         20,
		DXBurst:       10,
		ConfigPattern: DefaultConfigPattern,
		SampleLimit:   DefaultSampleLimit,
		BatchApp:      DefaultBatchApp,
		Invitees:      []string{DefaultInvitee},
		InviteLevel:   DefaultInviteLevel,
		ArtifactDir:   DefaultArtifactDir,
		PollTimeout:   DefaultPollTimeout,
	}
}

// ProdJobs maps an assay name to the ID of the production job used as
// the template for testing configs for that assay. It is given as a
// JSON object, e.g., `{"CEN": "job-Gk9...", "TWE": "job-Gk8..."}`.
type ProdJobs map[string]string

func (p *ProdJobs) String() string {
	if *p == nil {
		return "{}"
	}
	bytes, _ := json.Marshal(*p)
	return string(bytes)
}

func (p *ProdJobs) Set(s string) error {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return errors.Wrap(err, "parsing production jobs as a JSON object")
	}
	*p = m
	return nil
}

func (p *ProdJobs) Type() string {
	return "json"
}

// For returns the template job for an assay.
func (p ProdJobs) For(assay string) (string, error) {
	if job, ok := p[assay]; ok && job != "" {
		return job, nil
	}
	var known []string
	for k := range p {
		known = append(known, k)
	}
	sort.Strings(known)
	return "", &cierr.Error{
		Type: cierr.User,
		Err:  fmt.Errorf("no production job for assay %q", assay),
		Help: fmt.Sprintf(`There is no production job to use as the template for assay %q.

The production jobs are configured with PROD_JOBS (or --prod-jobs) and
currently cover: %s.

Add an entry mapping the assay to a completed production job ID.
`, assay, strings.Join(known, ", ")),
	}
}

// flagBinding ties a command-line flag to a field of Config.
type flagBinding struct {
	flag, field string
}

// envBinding ties an environment variable to a field of Config.
type envBinding struct {
	env, field string
}

var envBindings = []envBinding{
	{"DX_TOKEN", "DXToken"},
	{"DX_API_URL", "DXAPIURL"},
	{"CONFIG_PATH", "ConfigPath"},
	{"PROD_JOBS", "ProdJobs"},
	{"TEST_SAMPLE_LIMIT", "SampleLimit"},
	{"RUN_CNV_CALLING", "RunCNVCalling"},
	{"DEVELOPMENT", "Development"},
	{"WORKFLOW_BRANCH", "WorkflowBranch"},
	{"PIPELINE_VERSION", "PipelineVersion"},
	{"GITHUB_BASE_REF", "BaseRef"},
}

// Flags holds the command-line flags defined for Config, so that the
// ones given can be layered over the other sources.
type Flags struct {
	fs       *pflag.FlagSet
	bindings []flagBinding
	settings string
}

// DefineFlags defines the flags that can also be set in a settings
// file or the environment. These need special treatment, because
// only the flags actually given should override other sources.
func DefineFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	def := Defaults()

	bind := func(fieldName, flagName string) {
		if _, ok := reflect.TypeOf(Config{}).FieldByName(fieldName); !ok {
			panic(fmt.Sprintf("attempt to bind flag %q to a field not present in config.Config, %q", flagName, fieldName))
		}
		f.bindings = append(f.bindings, flagBinding{flag: flagName, field: fieldName})
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bind(fieldName, flagName)
	}

	fs.StringVar(&f.settings, "settings", "", "path to a YAML settings file; environment variables and flags override what it says")

	// DNAnexus
	defineString("DXAPIURL", "dx-api-url", def.DXAPIURL, "base URL of the DNAnexus API")
	defineFloat64("DXRPS", "dx-rps", def.DXRPS, "maximum DNAnexus API requests per second")
	defineInt("DXBurst", "dx-burst", def.DXBurst, "maximum burst of DNAnexus API requests")

	// what to test
	defineString("ConfigPath", "config-path", "", "DNAnexus folder holding the production configs, as project-xxxx:/path; or set CONFIG_PATH")
	defineString("ConfigPattern", "config-pattern", def.ConfigPattern, "glob matched against changed file paths to find config files")
	fs.Var(new(ProdJobs), "prod-jobs", `JSON object of assay to production job ID; or set PROD_JOBS`)
	bind("ProdJobs", "prod-jobs")
	defineInt("SampleLimit", "sample-limit", def.SampleLimit, "number of samples to run the test job on; or set TEST_SAMPLE_LIMIT")
	defineBool("RunCNVCalling", "run-cnv-calling", false, "run CNV calling in the test job, rather than reusing the production CNV calls; or set RUN_CNV_CALLING")
	defineBool("Development", "development", false, "use the development testing project for the assay; or set DEVELOPMENT")
	defineString("WorkflowBranch", "workflow-branch", "", "branch of the config-test workflow the caller pinned; recorded in the run outputs and summary")
	defineString("PipelineVersion", "pipeline-version", "", "expected version of the single sample workflow that made the production data; a mismatch is warned about")
	defineString("BatchApp", "batch-app", def.BatchApp, "fallback name of the app to run, when the production job does not report one")

	// workspace
	defineStringSlice("Invitees", "invitee", def.Invitees, "users or orgs invited to a newly created testing project")
	defineString("InviteLevel", "invite-level", def.InviteLevel, "permission level given to invitees")

	// run
	defineStringSlice("ChangedFiles", "changed-file", nil, "changed file path; skips asking GitHub or git for the changed files")
	defineString("BaseRef", "base-ref", "", "base branch for finding changed files with git, when GitHub can't be asked")
	defineString("ArtifactDir", "artifact-dir", def.ArtifactDir, "directory to write the config diff and other artifacts to")
	defineDuration("PollTimeout", "poll-timeout", def.PollTimeout, "how long to wait for the test jobs to finish; 0 means no limit")
	defineBool("PostStatus", "post-status", false, "post a commit status for the result to the pull request head")

	return f
}

// Load assembles the configuration: defaults, then the settings file
// if one was given, then environment variables, then any flags given.
// PROD_JOBS (or --prod-jobs) replaces the production jobs wholesale,
// except that assays it does not mention keep the settings file's job.
func (f *Flags) Load(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if f.settings != "" {
		bytes, err := ioutil.ReadFile(f.settings)
		if err != nil {
			return Config{}, errors.Wrap(err, "reading settings file")
		}
		if cfg, err = Parse(bytes); err != nil {
			return Config{}, errors.Wrapf(err, "parsing settings file %s", f.settings)
		}
	}
	fileJobs := cfg.ProdJobs

	v := reflect.ValueOf(&cfg).Elem()
	for _, b := range envBindings {
		s := getenv(b.env)
		if s == "" {
			continue
		}
		if err := setFromString(v.FieldByName(b.field), s); err != nil {
			return Config{}, errors.Wrapf(err, "environment variable %s", b.env)
		}
	}

	for _, b := range f.bindings {
		flag := f.fs.Lookup(b.flag)
		if flag == nil || !flag.Changed {
			continue
		}
		field := v.FieldByName(b.field)
		if field.Type() == reflect.TypeOf([]string{}) {
			vals, err := f.fs.GetStringSlice(b.flag)
			if err != nil {
				return Config{}, err
			}
			field.Set(reflect.ValueOf(vals))
			continue
		}
		if err := setFromString(field, flag.Value.String()); err != nil {
			return Config{}, errors.Wrapf(err, "flag --%s", b.flag)
		}
	}

	if len(fileJobs) > 0 {
		if cfg.ProdJobs == nil {
			cfg.ProdJobs = ProdJobs{}
		}
		if err := mergo.Merge(&cfg.ProdJobs, fileJobs); err != nil {
			return Config{}, errors.Wrap(err, "merging production jobs")
		}
	}
	return cfg, nil
}

// Parse reads a YAML settings file over the defaults, so a setting
// given as its zero value (e.g., `pollTimeout: 0`) stays that way.
func Parse(bytes []byte) (Config, error) {
	cfg := Defaults()
	cfg.Version = ""
	if err := yaml.UnmarshalStrict(bytes, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Version != SettingsVersion {
		return Config{}, fmt.Errorf("settings file is expected to include `configciVersion: %s`", SettingsVersion)
	}
	return cfg, nil
}

func setFromString(field reflect.Value, s string) error {
	if field.Addr().Type().Implements(reflect.TypeOf((*pflag.Value)(nil)).Elem()) {
		return field.Addr().Interface().(pflag.Value).Set(s)
	}
	switch field.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	case []string:
		field.Set(reflect.ValueOf(strings.Split(s, ",")))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(i))
	case reflect.Float64:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		field.SetFloat(x)
	default:
		return fmt.Errorf("unsupported config field type %s", field.Type())
	}
	return nil
}

// Check is a requirement on the configuration made by a particular
// subcommand.
type Check func(Config) error

// NeedsToken is for anything talking to DNAnexus.
func NeedsToken(c Config) error {
	if c.DXToken == "" {
		return cierr.Userf("DX_TOKEN is not set; it must hold a DNAnexus API token")
	}
	return nil
}

// NeedsConfigPath is for anything looking up the production configs.
func NeedsConfigPath(c Config) error {
	if !configPathRegexp.MatchString(c.ConfigPath) {
		return cierr.Userf("CONFIG_PATH %q is not a DNAnexus folder of the form project-xxxx:/path", c.ConfigPath)
	}
	return nil
}

// NeedsProdJobs is for anything running a test job.
func NeedsProdJobs(c Config) error {
	if len(c.ProdJobs) == 0 {
		return cierr.Userf("PROD_JOBS is not set; it must be a JSON object of assay to production job ID")
	}
	for assay, job := range c.ProdJobs {
		if !strings.HasPrefix(job, "job-") {
			return cierr.Userf("PROD_JOBS entry for %q is %q, which is not a job ID", assay, job)
		}
	}
	return nil
}

var inviteLevels = map[string]bool{"VIEW": true, "UPLOAD": true, "CONTRIBUTE": true, "ADMINISTER": true}

// Validate checks the settings every subcommand relies on, then the
// checks given.
func (c Config) Validate(checks ...Check) error {
	if c.SampleLimit < 1 {
		return cierr.Userf("sample limit must be at least 1, got %d", c.SampleLimit)
	}
	if c.PollTimeout < 0 {
		return cierr.Userf("poll timeout must not be negative, got %s", c.PollTimeout)
	}
	if !inviteLevels[c.InviteLevel] {
		return cierr.Userf("invite level %q is not one of VIEW, UPLOAD, CONTRIBUTE, ADMINISTER", c.InviteLevel)
	}
	if c.ConfigPattern == "" {
		return cierr.Userf("config pattern must not be empty")
	}
	for _, check := range checks {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}
