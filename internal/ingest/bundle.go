package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// necessaryTypes is the minimum file-type set a project bundle must carry to
// be usable downstream.
var necessaryTypes = []FileType{BuildFileGitBlame, SyftSBOM, ETLBuildMetadata}

const minBundleFiles = 3

// BundleFiles regroups the extracted file list into complete per-project
// bundles. The project name is the path segment immediately under the
// extraction root; files that sit directly in the root have no project and
// are skipped. Incomplete bundles are dropped with a warning — one malformed
// project never fails the whole archive.
//
// The walk relies on extraction order: files of one project are adjacent, so
// a single rolling buffer flushed on project change is sufficient.
func BundleFiles(root string, paths []string, logger zerolog.Logger) map[string][]DataFile {
	bundles := make(map[string][]DataFile)
	var buffer []DataFile
	lastProject := ""

	for _, path := range paths {
		project, ok := projectName(root, path)
		if !ok {
			logger.Debug().Str("path", path).Msg("no project segment, skipping")
			continue
		}

		if project != lastProject && lastProject != "" {
			flushBundle(lastProject, buffer, bundles, logger)
			buffer = nil
		}
		lastProject = project

		fileType, recognized := ClassifyFile(filepath.Base(path))
		if !recognized {
			continue
		}
		buffer = append(buffer, DataFile{Path: path, Project: project, Type: fileType})
	}

	if lastProject != "" {
		flushBundle(lastProject, buffer, bundles, logger)
	}
	return bundles
}

func projectName(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	segments := strings.Split(rel, string(os.PathSeparator))
	if len(segments) < 2 {
		return "", false
	}
	return segments[0], true
}

func flushBundle(project string, buffer []DataFile, bundles map[string][]DataFile, logger zerolog.Logger) {
	if !bundleComplete(buffer) {
		logger.Warn().
			Str("project", project).
			Int("files", len(buffer)).
			Msg("incomplete bundle discarded")
		return
	}
	bundles[project] = append(bundles[project], buffer...)
}

func bundleComplete(buffer []DataFile) bool {
	if len(buffer) < minBundleFiles {
		return false
	}
	present := make(map[FileType]bool, len(buffer))
	for _, file := range buffer {
		present[file.Type] = true
	}
	for _, required := range necessaryTypes {
		if !present[required] {
			return false
		}
	}
	return true
}
