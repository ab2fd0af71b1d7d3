package distribution

import (
	"errors"
	"runtime"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		goos, goarch string
		wantPath     string
		wantExe      string
	}{
		{"linux", "amd64", "0.10.1/vault_0.10.1_linux_amd64.zip", "vault"},
		{"linux", "386", "0.10.1/vault_0.10.1_linux_386.zip", "vault"},
		{"linux", "arm", "0.10.1/vault_0.10.1_linux_arm.zip", "vault"},
		{"linux", "arm64", "0.10.1/vault_0.10.1_linux_arm.zip", "vault"},
		{"darwin", "amd64", "0.10.1/vault_0.10.1_darwin_amd64.zip", "vault"},
		{"freebsd", "386", "0.10.1/vault_0.10.1_freebsd_386.zip", "vault"},
		{"solaris", "amd64", "0.10.1/vault_0.10.1_solaris_amd64.zip", "vault"},
		{"illumos", "amd64", "0.10.1/vault_0.10.1_solaris_amd64.zip", "vault"},
		{"windows", "amd64", "0.10.1/vault_0.10.1_windows_amd64.zip", "vault.exe"},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			d, err := Resolve("0.10.1", tt.goos, tt.goarch)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := d.Path(); got != tt.wantPath {
				t.Errorf("Path() = %q, want %q", got, tt.wantPath)
			}
			if d.Executable != tt.wantExe {
				t.Errorf("Executable = %q, want %q", d.Executable, tt.wantExe)
			}
			if d.Archive != ArchiveZip {
				t.Errorf("Archive = %q, want zip", d.Archive)
			}
		})
	}
}

func TestResolve_Unsupported(t *testing.T) {
	tests := []struct {
		name         string
		version      string
		goos, goarch string
		want         error
	}{
		{"unknown os", "0.10.1", "plan9", "amd64", ErrUnsupportedPlatform},
		{"unknown arch", "0.10.1", "linux", "riscv64", ErrUnsupportedArch},
		{"mips", "0.10.1", "linux", "mips64le", ErrUnsupportedArch},
		{"no version", "", "linux", "amd64", ErrNoVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.version, tt.goos, tt.goarch)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDescriptor_Names(t *testing.T) {
	d, err := Resolve("0.9.0", "linux", "amd64")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := d.ChecksumsPath(); got != "0.9.0/vault_0.9.0_SHA256SUMS" {
		t.Errorf("ChecksumsPath() = %q", got)
	}
	if got := d.Target(); got != "linux_amd64" {
		t.Errorf("Target() = %q", got)
	}
	if got := d.String(); got != "0.9.0:linux_amd64" {
		t.Errorf("String() = %q", got)
	}
}

func TestDetect(t *testing.T) {
	d, err := Detect("0.10.1")
	if _, ok := platforms[runtime.GOOS]; !ok {
		if err == nil {
			t.Error("Detect() expected error on unsupported host")
		}
		return
	}
	if err != nil {
		t.Skipf("host arch not published: %v", err)
	}
	if d.Version != "0.10.1" {
		t.Errorf("Version = %q", d.Version)
	}
}

func TestSupportedPlatforms(t *testing.T) {
	got := SupportedPlatforms()
	if len(got) != len(platforms) {
		t.Fatalf("len = %d, want %d", len(got), len(platforms))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Errorf("not sorted: %v", got)
		}
	}
}
