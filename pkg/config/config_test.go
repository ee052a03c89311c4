package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func load(t *testing.T, args []string, env map[string]string) (Config, error) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return flags.Load(envFrom(env))
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 5, cfg.SampleLimit)
	assert.Equal(t, []string{"org-emee_1"}, cfg.Invitees)
	assert.Equal(t, 12*time.Hour, cfg.PollTimeout)
}

func TestEnvironment(t *testing.T) {
	cfg, err := load(t, nil, map[string]string{
		"DX_TOKEN":          "tok",
		"CONFIG_PATH":       "project-Fkb6Gkj433GVVvj73J7x8KbV:/dynamic_files/dias_batch_configs/",
		"PROD_JOBS":         `{"CEN": "job-GXvyQ9j4fGk1GZ6bKGQq8kJ0"}`,
		"TEST_SAMPLE_LIMIT": "3",
		"RUN_CNV_CALLING":   "true",
		"DEVELOPMENT":       "false",
		"WORKFLOW_BRANCH":   "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.DXToken)
	assert.Equal(t, ProdJobs{"CEN": "job-GXvyQ9j4fGk1GZ6bKGQq8kJ0"}, cfg.ProdJobs)
	assert.Equal(t, 3, cfg.SampleLimit)
	assert.True(t, cfg.RunCNVCalling)
	assert.False(t, cfg.Development)
	assert.Equal(t, "main", cfg.WorkflowBranch)
	assert.NoError(t, cfg.Validate(NeedsToken, NeedsConfigPath, NeedsProdJobs))
}

func TestBadEnvironment(t *testing.T) {
	_, err := load(t, nil, map[string]string{"TEST_SAMPLE_LIMIT": "five"})
	assert.Error(t, err)
	_, err = load(t, nil, map[string]string{"PROD_JOBS": "CEN=job-1"})
	assert.Error(t, err)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	cfg, err := load(t, []string{
		"--sample-limit=2",
		"--development",
		"--prod-jobs", `{"TWE": "job-B"}`,
		"--changed-file", "configs/a.json",
		"--changed-file", "README.md",
		"--poll-timeout", "30m",
	}, map[string]string{
		"TEST_SAMPLE_LIMIT": "3",
		"DEVELOPMENT":       "false",
		"PROD_JOBS":         `{"CEN": "job-A"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SampleLimit)
	assert.True(t, cfg.Development)
	assert.Equal(t, ProdJobs{"TWE": "job-B"}, cfg.ProdJobs)
	assert.Equal(t, []string{"configs/a.json", "README.md"}, cfg.ChangedFiles)
	assert.Equal(t, 30*time.Minute, cfg.PollTimeout)
}

func TestSettingsFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "configci-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
configciVersion: v1
configPath: project-Abc:/configs
sampleLimit: 4
pollTimeout: 2h
prodJobs:
  CEN: job-FromFile
invitees:
- org-one
- user-two
`), 0600))

	cfg, err := load(t, []string{"--settings", path}, map[string]string{"TEST_SAMPLE_LIMIT": "7"})
	require.NoError(t, err)
	assert.Equal(t, "project-Abc:/configs", cfg.ConfigPath)
	assert.Equal(t, 7, cfg.SampleLimit)
	assert.Equal(t, 2*time.Hour, cfg.PollTimeout)
	assert.Equal(t, ProdJobs{"CEN": "job-FromFile"}, cfg.ProdJobs)
	assert.Equal(t, []string{"org-one", "user-two"}, cfg.Invitees)
	// not in the file, so from defaults
	assert.Equal(t, DefaultInviteLevel, cfg.InviteLevel)
}

func writeSettings(t *testing.T, content string) (string, func()) {
	dir, err := ioutil.TempDir("", "configci-config")
	require.NoError(t, err)
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path, func() { os.RemoveAll(dir) }
}

func TestSettingsFileZeroValues(t *testing.T) {
	path, cleanup := writeSettings(t, "configciVersion: v1\npollTimeout: 0s\ninvitees: []\n")
	defer cleanup()

	cfg, err := load(t, []string{"--settings", path}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.PollTimeout)
	assert.Empty(t, cfg.Invitees)
	assert.Equal(t, DefaultSampleLimit, cfg.SampleLimit)
}

func TestProdJobsLayering(t *testing.T) {
	path, cleanup := writeSettings(t, `
configciVersion: v1
prodJobs:
  CEN: job-CENFromFile
  TWE: job-TWEFromFile
`)
	defer cleanup()

	cfg, err := load(t, []string{"--settings", path}, map[string]string{"PROD_JOBS": `{"TWE": "job-TWEFromEnv"}`})
	require.NoError(t, err)
	assert.Equal(t, ProdJobs{"CEN": "job-CENFromFile", "TWE": "job-TWEFromEnv"}, cfg.ProdJobs)
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("sampleLimit: 4\n"))
	assert.Error(t, err, "missing version")
	_, err = Parse([]byte("configciVersion: v1\nsampleLimt: 4\n"))
	assert.Error(t, err, "unknown field")
}

func TestValidate(t *testing.T) {
	good := Defaults()
	good.DXToken = "tok"
	good.ConfigPath = "project-Abc:/configs"
	good.ProdJobs = ProdJobs{"CEN": "job-A"}
	require.NoError(t, good.Validate(NeedsToken, NeedsConfigPath, NeedsProdJobs))

	for name, mutate := range map[string]func(*Config){
		"no token":          func(c *Config) { c.DXToken = "" },
		"bad config path":   func(c *Config) { c.ConfigPath = "/configs" },
		"no project id":     func(c *Config) { c.ConfigPath = "project-:/configs" },
		"no prod jobs":      func(c *Config) { c.ProdJobs = nil },
		"prod job not job":  func(c *Config) { c.ProdJobs = ProdJobs{"CEN": "analysis-A"} },
		"zero sample limit": func(c *Config) { c.SampleLimit = 0 },
		"bad invite level":  func(c *Config) { c.InviteLevel = "OWNER" },
		"negative timeout":  func(c *Config) { c.PollTimeout = -time.Second },
	} {
		c := good
		mutate(&c)
		err := c.Validate(NeedsToken, NeedsConfigPath, NeedsProdJobs)
		if assert.Error(t, err, name) {
			assert.True(t, cierr.IsUser(err), name)
		}
	}
}

func TestProdJobsFor(t *testing.T) {
	jobs := ProdJobs{"CEN": "job-A", "TWE": "job-B"}
	job, err := jobs.For("CEN")
	require.NoError(t, err)
	assert.Equal(t, "job-A", job)

	_, err = jobs.For("MYE")
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
	assert.Contains(t, err.(*cierr.Error).Help, "CEN, TWE")
}
