package fdroid

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// DefaultLocale is the metadata locale read when a repository does not set one.
const DefaultLocale = "en-US"

var (
	ErrNoMetadata = errors.New("no build metadata")
	ErrNoBuild    = errors.New("no build entry for version code")
	ErrNoCommit   = errors.New("build entry has no commit")
)

// Layout locates the files fdroidserver keeps around a repository.
type Layout struct {
	RepoDir     string
	ArtifactDir string
	BuildDir    string
	MetadataDir string
	Locale      string
}

// NewLayout fills in the fdroidserver defaults for empty directories.
func NewLayout(repoDir, artifactDir, buildDir, metadataDir, locale string) Layout {
	repoDir = filepath.Clean(repoDir)
	parent := filepath.Dir(repoDir)
	if artifactDir == "" {
		artifactDir = repoDir
	}
	if buildDir == "" {
		buildDir = filepath.Join(parent, "build")
	}
	if metadataDir == "" {
		metadataDir = filepath.Join(parent, "metadata")
	}
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}
	return Layout{
		RepoDir:     repoDir,
		ArtifactDir: artifactDir,
		BuildDir:    buildDir,
		MetadataDir: metadataDir,
		Locale:      locale,
	}
}

func (l Layout) IndexPath() string { return filepath.Join(l.RepoDir, IndexFile) }

func (l Layout) LoadIndex() (*Index, error) { return LoadIndex(l.IndexPath()) }

func (l Layout) ArtifactPath(pkg string, code VersionCode) string {
	return filepath.Join(l.ArtifactDir, fmt.Sprintf("%s_%d.apk", pkg, code))
}

// ArtifactExists reports whether the packaged build for code is on disk.
func (l Layout) ArtifactExists(pkg string, code VersionCode) bool {
	st, err := os.Stat(l.ArtifactPath(pkg, code))
	return err == nil && st.Mode().IsRegular()
}

func (l Layout) ChangelogPath(pkg string, code VersionCode) string {
	return filepath.Join(l.BuildDir, pkg, "fastlane", "metadata", "android", l.Locale, "changelogs",
		strconv.FormatInt(int64(code), 10)+".txt")
}

// Changelog reads the fastlane changelog written for exactly this version code.
func (l Layout) Changelog(pkg string, code VersionCode) (string, bool) {
	b, err := os.ReadFile(l.ChangelogPath(pkg, code))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (l Layout) MetadataPath(pkg string) string {
	return filepath.Join(l.MetadataDir, pkg+".yml")
}

type metadataFile struct {
	Builds []metadataBuild `yaml:"Builds"`
}

type metadataBuild struct {
	VersionCode any    `yaml:"versionCode"`
	Commit      string `yaml:"commit"`
}

// BuildCommit returns the source revision the given version was built from.
func (l Layout) BuildCommit(pkg string, code VersionCode) (string, error) {
	b, err := os.ReadFile(l.MetadataPath(pkg))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoMetadata
		}
		return "", err
	}
	var md metadataFile
	if err := yaml.Unmarshal(b, &md); err != nil {
		return "", fmt.Errorf("parse %s: %w", l.MetadataPath(pkg), err)
	}
	for _, build := range md.Builds {
		vc, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(build.VersionCode)), 10, 64)
		if err != nil || VersionCode(vc) != code {
			continue
		}
		if strings.TrimSpace(build.Commit) == "" {
			return "", ErrNoCommit
		}
		return strings.TrimSpace(build.Commit), nil
	}
	return "", ErrNoBuild
}
