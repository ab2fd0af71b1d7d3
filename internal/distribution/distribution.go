package distribution

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// ArchiveType is the container format of a release download.
type ArchiveType string

// ArchiveZip is the only format releases are published in.
const ArchiveZip ArchiveType = "zip"

// platformInfo describes one supported operating system.
type platformInfo struct {
	segment    string
	executable string
}

// platforms maps GOOS values onto download path segments.
var platforms = map[string]platformInfo{
	"darwin":  {segment: "darwin", executable: "vault"},
	"freebsd": {segment: "freebsd", executable: "vault"},
	"linux":   {segment: "linux", executable: "vault"},
	"solaris": {segment: "solaris", executable: "vault"},
	"illumos": {segment: "solaris", executable: "vault"},
	"windows": {segment: "windows", executable: "vault.exe"},
}

// arches maps GOARCH values onto download path segments. Every ARM
// variant shares the single "arm" build.
var arches = map[string]string{
	"386":   "386",
	"amd64": "amd64",
	"arm":   "arm",
	"arm64": "arm",
}

// Descriptor identifies the release archive for one version on one host.
type Descriptor struct {
	Version    string      `json:"version"`
	Platform   string      `json:"platform"`
	Arch       string      `json:"arch"`
	Executable string      `json:"executable"`
	Archive    ArchiveType `json:"archive"`
}

// Resolve builds the descriptor for version on the given GOOS/GOARCH pair.
func Resolve(version, goos, goarch string) (Descriptor, error) {
	if version == "" {
		return Descriptor{}, ErrNoVersion
	}
	p, ok := platforms[goos]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
	arch, ok := arches[goarch]
	if !ok {
		if !strings.HasPrefix(goarch, "arm") {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedArch, goarch)
		}
		arch = "arm"
	}
	return Descriptor{
		Version:    version,
		Platform:   p.segment,
		Arch:       arch,
		Executable: p.executable,
		Archive:    ArchiveZip,
	}, nil
}

// Detect builds the descriptor for version on the running host.
func Detect(version string) (Descriptor, error) {
	return Resolve(version, runtime.GOOS, runtime.GOARCH)
}

// ArchiveName returns the archive file name, e.g. vault_0.10.1_linux_amd64.zip.
func (d Descriptor) ArchiveName() string {
	return fmt.Sprintf("vault_%s_%s_%s.%s", d.Version, d.Platform, d.Arch, d.Archive)
}

// Path returns the archive path relative to the release base URL.
func (d Descriptor) Path() string {
	return d.Version + "/" + d.ArchiveName()
}

// ChecksumsName returns the name of the published SHA-256 sums file.
func (d Descriptor) ChecksumsName() string {
	return fmt.Sprintf("vault_%s_SHA256SUMS", d.Version)
}

// ChecksumsPath returns the sums file path relative to the release base URL.
func (d Descriptor) ChecksumsPath() string {
	return d.Version + "/" + d.ChecksumsName()
}

// Target returns "<platform>_<arch>", the directory name used for extracted binaries.
func (d Descriptor) Target() string {
	return d.Platform + "_" + d.Arch
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.Version + ":" + d.Target()
}

// SupportedPlatforms returns the GOOS values with a release, sorted.
func SupportedPlatforms() []string {
	keys := make([]string, 0, len(platforms))
	for k := range platforms {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
