package hostos

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/openfroyo/deploy/pkg/executor"
)

// ProbeCommand is run by the uname based probes.
const ProbeCommand = "uname -a"

// Probe reports whether a host runs a given OS. An error aborts detection.
type Probe func(ctx context.Context, exec executor.Executor) (bool, error)

// CommandTable holds the command templates of one OS variant. Templates
// use fmt verbs; arguments are shell-quoted before rendering.
type CommandTable struct {
	// Fetch downloads %[2]s (the URI) into %[1]s (the output file).
	Fetch string
	// Unzip receives the optional flags (verbatim, with a trailing space),
	// the archive and the target directory.
	Unzip string
	Move  string
	Mkdir string
	Touch string
}

// GenericCommands returns the shared templates with the given fetch command.
func GenericCommands(fetch string) CommandTable {
	return CommandTable{
		Fetch: fetch,
		Unzip: "unzip %s%s -d %s",
		Move:  "mv %s %s",
		Mkdir: "mkdir %s",
		Touch: "touch %s",
	}
}

// Variant pairs a detection probe with the command table of one OS.
type Variant struct {
	// Name identifies the variant, e.g. "FreeBSD".
	Name string
	// Platform is the repository platform directory for this OS.
	Platform string
	Probe    Probe
	Commands CommandTable
}

// UnameProbe matches hosts whose "uname -a" output contains marker. A
// command that fails is a mismatch, not an error.
func UnameProbe(marker string) Probe {
	return func(ctx context.Context, exec executor.Executor) (bool, error) {
		res, err := exec.Execute(ctx, ProbeCommand)
		if err != nil {
			return false, err
		}
		return res.Succeeded() && strings.Contains(res.Stdout, marker), nil
	}
}

// UnameVariant builds a variant detected by a uname marker.
func UnameVariant(name, platform, marker, fetch string) Variant {
	return Variant{
		Name:     name,
		Platform: platform,
		Probe:    UnameProbe(marker),
		Commands: GenericCommands(fetch),
	}
}

// Built-in variants.
var (
	FreeBSD = UnameVariant("FreeBSD", "freebsd", "FreeBSD", "fetch -o %s %s")
	Ubuntu  = UnameVariant("Ubuntu", "ubuntu", "Ubuntu", "wget -O %s %s")
	Debian  = UnameVariant("Debian", "debian", "Debian", "wget -O %s %s")
	Darwin  = UnameVariant("Darwin", "darwin", "Darwin", "curl -fsSL -o %s %s")
)

// DefaultVariants returns the built-in registry in probe order.
func DefaultVariants() []Variant {
	return []Variant{FreeBSD, Ubuntu, Debian, Darwin}
}

// Quote renders s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:@%+=,", r)
}

func render(template string, args ...string) string {
	quoted := make([]interface{}, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return fmt.Sprintf(template, quoted...)
}

// Destination returns the file a fetch of uri into dir writes to: the last
// element of the URI path joined to dir.
func Destination(uri, dir string) string {
	name := path.Base(uri)
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	return path.Join(dir, name)
}
