package assay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

func config(t *testing.T, name, version string) Config {
	c, err := Parse(name, []byte(`{"assay": "CEN", "version": "`+version+`"}`))
	require.NoError(t, err)
	return c
}

func TestParse(t *testing.T) {
	c, err := Parse("CEN_config_v2.1.0.json", []byte(`{
		"assay": "CEN",
		"version": "2.1.0",
		"modes": {"cnv_call": true, "cnv_reports": false},
		"reference_files": {"genepanels": "project-Fkb6Gkj433GVVvj73J7x8KbV:file-GVx0vkQ433Gvq63k1Kj4Y562"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "CEN", c.Assay)
	assert.Equal(t, "2.1.0", c.Version)
	assert.Equal(t, true, c.Document().Path("modes.cnv_call").Data())
	assert.Equal(t, Ref{Name: "CEN_config_v2.1.0.json", Assay: "CEN", Version: "2.1.0"}, c.Ref())
	assert.Equal(t, "CEN_config_v2.1.0.json (CEN v2.1.0)", c.String())
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":        `{"assay": `,
		"not an object":   `["CEN", "2.1.0"]`,
		"no assay":        `{"version": "2.1.0"}`,
		"no version":      `{"assay": "CEN"}`,
		"numeric version": `{"assay": "CEN", "version": 2}`,
		"empty assay":     `{"assay": "", "version": "2"}`,
	} {
		_, err := Parse(name, []byte(doc))
		if assert.Error(t, err, name) {
			assert.True(t, cierr.IsUser(err), name)
		}
	}
}

func TestPeekAssay(t *testing.T) {
	assert.Equal(t, "TWE", PeekAssay([]byte(`{"assay": "TWE"}`)))
	assert.Equal(t, "", PeekAssay([]byte(`{"assay": 1}`)))
	assert.Equal(t, "", PeekAssay([]byte(`nope`)))
}

func TestHighest(t *testing.T) {
	configs := []Config{
		config(t, "a.json", "2.0.0"),
		config(t, "b.json", "10.0.0"),
		config(t, "c.json", "v3.1"),
		config(t, "d.json", "9"),
	}
	top, err := Highest(configs)
	require.NoError(t, err)
	assert.Equal(t, "b.json", top.Name, "10.0.0 beats 9, numerically not lexically")

	_, err = Highest(nil)
	assert.Error(t, err)
}

func TestHighestDuplicate(t *testing.T) {
	configs := []Config{
		config(t, "a.json", "2.0.0"),
		config(t, "b.json", "2.1.0"),
		config(t, "c.json", "v2.1"),
	}
	_, err := Highest(configs)
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
	assert.Contains(t, err.Error(), "b.json")
	assert.Contains(t, err.Error(), "c.json")

	// duplicates below the top are fine
	configs = append(configs, config(t, "d.json", "3.0.0"))
	top, err := Highest(configs)
	require.NoError(t, err)
	assert.Equal(t, "d.json", top.Name)
}

func TestHighestBadVersion(t *testing.T) {
	_, err := Highest([]Config{config(t, "a.json", "2.0.0"), config(t, "b.json", "latest")})
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer(config(t, "a", "1.10.0"), config(t, "b", "1.9.0")))
	assert.False(t, Newer(config(t, "a", "1.9.0"), config(t, "b", "1.10.0")))
	assert.True(t, Newer(config(t, "a", "1.0.0"), config(t, "b", "junk")))
	assert.False(t, Newer(config(t, "a", "junk"), config(t, "b", "1.0.0")))
}
