package workspace

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eastgenomics/configci/pkg/await"
	"github.com/eastgenomics/configci/pkg/dx"
	"github.com/eastgenomics/configci/pkg/dx/dxtest"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

var now = time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)

func provisioner(api dx.API) *Provisioner {
	return &Provisioner{
		API:         api,
		Invitees:    []string{"org-emee_1"},
		InviteLevel: "CONTRIBUTE",
		Now:         func() time.Time { return now },
		Closing:     await.Backoff{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Second, Timeout: time.Minute, Sleep: await.NoSleep},
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "004_240307_GitHub_Actions_CEN_config_testing", ProjectName("CEN", false, now))
	assert.Equal(t, "004_240307_GitHub_Actions_CEN_development_config_testing", ProjectName("CEN", true, now))
	assert.Equal(t, "/GitHub_Actions_run-8123_240307_0905", RunFolder("8123", now))

	prod := regexp.MustCompile(ProjectRegexp("CEN", false))
	dev := regexp.MustCompile(ProjectRegexp("CEN", true))
	for _, tc := range []struct {
		name      string
		prod, dev bool
	}{
		{"004_230101_GitHub_Actions_CEN_config_testing", true, false},
		{"004_230101_GitHub_Actions_CEN_development_config_testing", false, true},
		{"004_230101_GitHub_Actions_CENX_config_testing", false, false},
		{"004_2301_GitHub_Actions_CEN_config_testing", false, false},
		{"003_230101_GitHub_Actions_CEN_config_testing", false, false},
		{"004_230101_GitHub_Actions_CEN_config_testing_copy", false, false},
	} {
		assert.Equal(t, tc.prod, prod.MatchString(tc.name), tc.name)
		assert.Equal(t, tc.dev, dev.MatchString(tc.name), tc.name)
	}

	// assay names are literal
	assert.False(t, regexp.MustCompile(ProjectRegexp("C.N", false)).MatchString("004_230101_GitHub_Actions_CEN_config_testing"))
}

func TestProvisionCreates(t *testing.T) {
	platform := dxtest.New()
	platform.AddProject("004_230101_GitHub_Actions_CEN_development_config_testing", now)
	platform.AddProject("004_230101_GitHub_Actions_TWE_config_testing", now)

	p := provisioner(platform)
	ws, err := p.Provision(context.Background(), Request{
		Assay:      "CEN",
		RunID:      "8123",
		ConfigName: "CEN_config_v2.1.0.json",
		RunURL:     "https://github.com/eastgenomics/dias_batch_configs/actions/runs/8123",
	})
	require.NoError(t, err)
	assert.True(t, ws.Created)
	assert.Equal(t, "004_240307_GitHub_Actions_CEN_config_testing", ws.ProjectName)
	assert.Equal(t, ws.ProjectID, platform.ProjectNamed(ws.ProjectName))
	assert.Equal(t, "/GitHub_Actions_run-8123_240307_0905", ws.Folder)
	assert.True(t, platform.HasFolder(ws.ProjectID, ws.Folder))
	assert.Equal(t, map[string]string{"org-emee_1": "CONTRIBUTE"}, platform.Invites(ws.ProjectID))
}

func TestProvisionReuses(t *testing.T) {
	platform := dxtest.New()
	existing := platform.AddProject("004_230101_GitHub_Actions_CEN_config_testing", now)

	p := provisioner(platform)
	ws, err := p.Provision(context.Background(), Request{Assay: "CEN", RunID: "1"})
	require.NoError(t, err)
	assert.False(t, ws.Created)
	assert.Equal(t, existing, ws.ProjectID)
	assert.Empty(t, platform.Invites(existing))
	assert.Len(t, platform.ProjectNames(), 1)

	// and again, with the folder already there
	ws2, err := p.Provision(context.Background(), Request{Assay: "CEN", RunID: "1"})
	require.NoError(t, err)
	assert.Equal(t, ws, ws2)
}

func TestProvisionDevelopment(t *testing.T) {
	platform := dxtest.New()
	platform.AddProject("004_230101_GitHub_Actions_CEN_config_testing", now)

	ws, err := provisioner(platform).Provision(context.Background(), Request{Assay: "CEN", Development: true, RunID: "1"})
	require.NoError(t, err)
	assert.True(t, ws.Created)
	assert.Equal(t, "004_240307_GitHub_Actions_CEN_development_config_testing", ws.ProjectName)
}

func TestProvisionAmbiguous(t *testing.T) {
	platform := dxtest.New()
	platform.AddProject("004_230101_GitHub_Actions_CEN_config_testing", now)
	platform.AddProject("004_230202_GitHub_Actions_CEN_config_testing", now)

	_, err := provisioner(platform).Provision(context.Background(), Request{Assay: "CEN", RunID: "1"})
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
	assert.Len(t, platform.ProjectNames(), 2)
}

func TestUploadWaitsForClose(t *testing.T) {
	platform := dxtest.New()
	p := provisioner(platform)
	ws, err := p.Provision(context.Background(), Request{Assay: "CEN", RunID: "1"})
	require.NoError(t, err)

	id, err := p.Upload(context.Background(), ws, "configs/CEN_config_v2.1.0.json", []byte(`{"assay": "CEN"}`))
	require.NoError(t, err)
	assert.Equal(t, ws.Folder, platform.FolderOf(ws.ProjectID, id))
	assert.Equal(t, []byte(`{"assay": "CEN"}`), platform.Content(id))
	require.Len(t, platform.Uploads, 1)
	assert.Equal(t, "CEN_config_v2.1.0.json", platform.Uploads[0].Name)

	desc, err := platform.DescribeFile(context.Background(), ws.ProjectID, id)
	require.NoError(t, err)
	assert.Equal(t, dx.FileClosed, desc.State)
}
