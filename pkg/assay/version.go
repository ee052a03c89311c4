package assay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

// ParseVersion reads a config version. Versions are compared as
// semantic versions, but need not be strict about it: `3`, `v3.1`
// and `3.1.7` are all fine.
func ParseVersion(v string) (*semver.Version, error) {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing version %q", v)
	}
	return sv, nil
}

// Newer returns true if config a has a higher version than config b.
// Configs with versions that don't parse are never newer.
func Newer(a, b Config) bool {
	av, aerr := ParseVersion(a.Version)
	bv, berr := ParseVersion(b.Version)
	switch {
	case aerr != nil:
		return false
	case berr != nil:
		return true
	}
	return av.GreaterThan(bv)
}

// Highest picks the config with the highest version. Two configs
// sharing the highest version is an error, since there's no telling
// which is in use; as is any version that won't parse.
func Highest(configs []Config) (Config, error) {
	if len(configs) == 0 {
		return Config{}, errors.New("no configs to choose from")
	}
	for _, c := range configs {
		if _, err := ParseVersion(c.Version); err != nil {
			return Config{}, &cierr.Error{
				Type: cierr.User,
				Err:  errors.Wrapf(err, "config %s", c.Name),
				Help: fmt.Sprintf("The config %s has version %q, which can't be compared with other versions.\n", c.Name, c.Version),
			}
		}
	}

	sorted := make([]Config, len(configs))
	copy(sorted, configs)
	sort.SliceStable(sorted, func(i, j int) bool { return Newer(sorted[i], sorted[j]) })

	top := sorted[0]
	topVersion, _ := ParseVersion(top.Version)
	var same []string
	for _, c := range sorted {
		v, _ := ParseVersion(c.Version)
		if v.Equal(topVersion) {
			same = append(same, c.Name)
		}
	}
	if len(same) > 1 {
		return Config{}, &cierr.Error{
			Type: cierr.User,
			Err:  fmt.Errorf("%d configs share the highest version %s: %s", len(same), top.Version, strings.Join(same, ", ")),
			Help: fmt.Sprintf(`More than one config for assay %s has the highest version, %s:

    %s

Only one production config can have any one version. Remove or
re-version the duplicates.
`, top.Assay, top.Version, strings.Join(same, "\n    ")),
		}
	}
	return top, nil
}
