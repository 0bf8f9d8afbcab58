package install

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"

	"github.com/mbmove/mbmove/internal/fileutil"
	"github.com/mbmove/mbmove/internal/logx"
	"github.com/mbmove/mbmove/internal/types"
	"github.com/mbmove/mbmove/internal/version"
)

// LoadManifest reads and verifies an export package: the manifest parses, its
// tool version is compatible, and every indexed entity file exists with a
// matching checksum.
func LoadManifest(exportDir string, log *logx.Logger) (*types.Manifest, error) {
	path := filepath.Join(exportDir, "manifest.json")
	var manifest types.Manifest
	if err := fileutil.ReadJSONFile(path, &manifest); err != nil {
		if os.IsNotExist(err) {
			return nil, &PackageError{Msg: fmt.Sprintf("no manifest.json in %s; is this an export directory?", exportDir)}
		}
		return nil, &PackageError{Msg: "read manifest", Err: err}
	}

	if v := manifest.Meta.ToolVersion; v != "" {
		if semver.Compare(semver.Major("v"+v), semver.Major("v"+version.Version)) > 0 {
			return nil, &PackageError{Msg: fmt.Sprintf(
				"package was exported by tool version %s, newer than this tool (%s); upgrade before importing", v, version.Version)}
		}
	}

	for _, card := range manifest.Cards {
		if err := verifyEntityFile(exportDir, card.FilePath, card.Checksum); err != nil {
			return nil, err
		}
	}
	for _, dash := range manifest.Dashboards {
		if err := verifyEntityFile(exportDir, dash.FilePath, dash.Checksum); err != nil {
			return nil, err
		}
	}

	log.Infof("loaded package: %d databases, %d collections, %d cards, %d dashboards",
		len(manifest.Databases), len(manifest.Collections), len(manifest.Cards), len(manifest.Dashboards))
	return &manifest, nil
}

func verifyEntityFile(exportDir, relPath, wantChecksum string) error {
	full := filepath.Join(exportDir, filepath.FromSlash(relPath))
	sum, err := fileutil.ChecksumFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return &PackageError{Msg: fmt.Sprintf("entity file %s listed in manifest is missing", relPath)}
		}
		return &PackageError{Msg: fmt.Sprintf("checksum %s", relPath), Err: err}
	}
	if sum != wantChecksum {
		return &PackageError{Msg: fmt.Sprintf("entity file %s does not match its manifest checksum", relPath)}
	}
	return nil
}

// LoadDatabaseMap reads the user-authored db_map.json.
func LoadDatabaseMap(path string) (types.DatabaseMap, error) {
	var m types.DatabaseMap
	if err := fileutil.ReadJSONFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return m, &PackageError{Msg: fmt.Sprintf("database map %s not found", path)}
		}
		return m, &PackageError{Msg: "read database map", Err: err}
	}
	if m.ByID == nil {
		m.ByID = map[string]int{}
	}
	if m.ByName == nil {
		m.ByName = map[string]int{}
	}
	return m, nil
}
