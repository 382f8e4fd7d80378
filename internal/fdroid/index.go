package fdroid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IndexFile is the index name fdroidserver writes into the repo directory.
const IndexFile = "index-v1.json"

// VersionCode is the integer ordering key of a package's releases.
// index-v1.json writes suggestedVersionCode as a string and apk versionCode as a
// number; both decode into this type.
type VersionCode int64

func (v *VersionCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
		if len(b) == 0 {
			*v = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("version code %q: %w", string(b), err)
	}
	*v = VersionCode(n)
	return nil
}

// Localized holds the per-locale metadata fields this bot reads.
type Localized struct {
	Name     string `json:"name,omitempty"`
	WhatsNew string `json:"whatsNew,omitempty"`
}

// App is one published application of an index snapshot.
type App struct {
	PackageName          string               `json:"packageName"`
	Name                 string               `json:"name,omitempty"`
	SuggestedVersionCode VersionCode          `json:"suggestedVersionCode"`
	SuggestedVersionName string               `json:"suggestedVersionName,omitempty"`
	SourceCode           string               `json:"sourceCode,omitempty"`
	Localized            map[string]Localized `json:"localized,omitempty"`
}

// DisplayName returns the app name, falling back to the localized name and
// finally the package id.
func (a App) DisplayName(locale string) string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	if l, ok := a.Localized[locale]; ok && strings.TrimSpace(l.Name) != "" {
		return l.Name
	}
	return a.PackageName
}

// WhatsNew returns the localized changelog and whether the key was present.
func (a App) WhatsNew(locale string) (string, bool) {
	l, ok := a.Localized[locale]
	if !ok || l.WhatsNew == "" {
		return "", false
	}
	return l.WhatsNew, true
}

// Apk is one build artifact listed under "packages".
type Apk struct {
	VersionCode VersionCode `json:"versionCode"`
	VersionName string      `json:"versionName,omitempty"`
	ApkName     string      `json:"apkName,omitempty"`
}

// Index is an immutable snapshot of index-v1.json for one engine pass.
type Index struct {
	Apps     []App            `json:"apps"`
	Packages map[string][]Apk `json:"packages"`
}

// LoadIndex reads and decodes an index file.
func LoadIndex(path string) (*Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseIndex(b)
}

func ParseIndex(b []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return &idx, nil
}

// Apk returns the build entry of pkg with the given version code.
func (idx *Index) Apk(pkg string, code VersionCode) (Apk, bool) {
	if idx == nil {
		return Apk{}, false
	}
	for _, apk := range idx.Packages[pkg] {
		if apk.VersionCode == code {
			return apk, true
		}
	}
	return Apk{}, false
}

// VersionName looks up the version name recorded for a build.
func (idx *Index) VersionName(pkg string, code VersionCode) (string, bool) {
	apk, ok := idx.Apk(pkg, code)
	if !ok || strings.TrimSpace(apk.VersionName) == "" {
		return "", false
	}
	return apk.VersionName, true
}

// DirectDownload returns the public URL of a build artifact.
func (idx *Index) DirectDownload(repoURL, pkg string, code VersionCode) (string, bool) {
	apk, ok := idx.Apk(pkg, code)
	if !ok || apk.ApkName == "" || strings.TrimSpace(repoURL) == "" {
		return "", false
	}
	return strings.TrimRight(repoURL, "/") + "/" + apk.ApkName, true
}
