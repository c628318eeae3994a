// Package wrapper replaces native executables that have compiled-in
// paths with small scripts that pass corrected paths to the original.
package wrapper

import (
	"strings"
)

// RealSuffix is appended to a wrapped executable's original file
const RealSuffix = ".real"

// PrefixVar is the variable a wrapper script defines and specs may reference
const PrefixVar = "$PREFIX"

// Spec describes one executable to wrap. Args, Env values and Dirs may
// reference $PREFIX, which the script sets to the install root.
type Spec struct {
	Name string            `mapstructure:"name" yaml:"name" json:"name"`
	Path string            `mapstructure:"path" yaml:"path" json:"path"`
	Args []string          `mapstructure:"args" yaml:"args,omitempty" json:"args,omitempty"`
	Env  map[string]string `mapstructure:"env" yaml:"env,omitempty" json:"env,omitempty"`
	Dirs []string          `mapstructure:"dirs" yaml:"dirs,omitempty" json:"dirs,omitempty"`
}

// RealPath returns the location of the renamed original
func (s Spec) RealPath() string {
	return s.Path + RealSuffix
}

func aptSpec(name string) Spec {
	return Spec{
		Name: name,
		Path: "bin/" + name,
		Args: []string{
			"-o", "Dir::Etc=$PREFIX/etc/apt",
			"-o", "Dir::State=$PREFIX/var/lib/apt",
			"-o", "Dir::Cache=$PREFIX/var/cache/apt",
			"-o", "Dir::Log=$PREFIX/var/log/apt",
			"-o", "Dir::Bin::dpkg=$PREFIX/bin/dpkg",
			"-o", "Dir::Bin::Methods=$PREFIX/lib/apt/methods",
		},
		Env: map[string]string{
			"APT_CONFIG": "$PREFIX/etc/apt/apt.conf",
		},
		Dirs: []string{
			"$PREFIX/var/lib/apt/lists/partial",
			"$PREFIX/var/cache/apt/archives/partial",
			"$PREFIX/var/log/apt",
		},
	}
}

// DefaultSpecs covers the package manager executables: dpkg has its admin
// and log paths compiled in, the apt tools their Dir:: tree.
func DefaultSpecs() []Spec {
	specs := []Spec{{
		Name: "dpkg",
		Path: "bin/dpkg",
		Args: []string{
			"--admindir=$PREFIX/var/lib/dpkg",
			"--log=$PREFIX/var/log/dpkg.log",
		},
		Dirs: []string{
			"$PREFIX/var/lib/dpkg/info",
			"$PREFIX/var/lib/dpkg/updates",
			"$PREFIX/var/lib/dpkg/triggers",
			"$PREFIX/var/log",
		},
	}}
	for _, name := range []string{"apt", "apt-get", "apt-cache", "apt-config", "apt-mark", "apt-key"} {
		specs = append(specs, aptSpec(name))
	}
	return specs
}

// shellWord renders s as a double-quoted shell word. $PREFIX stays
// expandable, every other special character is escaped.
func shellWord(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"', '`':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '$':
			if strings.HasPrefix(s[i:], PrefixVar) {
				b.WriteByte(c)
			} else {
				b.WriteString(`\$`)
			}
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
