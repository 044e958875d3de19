// Package ingest implements the synchronous ingestion pipeline: archive
// unpacking, per-project bundling, dependency graph construction and event
// recording.
package ingest

import "strings"

// FileType classifies one extracted archive file. Producers emit these with
// well-known file-name suffixes; anything else is ignored.
type FileType string

const (
	// BuildFileGitBlame is a build file annotated with git blame data. It
	// encodes the project's dependency graph directly.
	BuildFileGitBlame FileType = "BUILD_FILE_GIT_BLAME"
	// SyftSBOM is syft's JSON software bill of materials.
	SyftSBOM FileType = "SYFT_SBOM"
	// ETLBuildMetadata is the extraction pipeline's sidecar with build
	// environment and package provenance details.
	ETLBuildMetadata FileType = "ETL_BUILD_METADATA"
)

var fileTypeSuffixes = map[string]FileType{
	".blame.json":     BuildFileGitBlame,
	".syft.json":      SyftSBOM,
	".buildmeta.json": ETLBuildMetadata,
}

// DataFile is one classified file extracted from an archive. In-memory only;
// it exists for the duration of one ingestion request.
type DataFile struct {
	Path    string
	Project string
	Type    FileType
}

// ClassifyFile maps a file name to its FileType by suffix. The second return
// is false for unrecognized files.
func ClassifyFile(name string) (FileType, bool) {
	lower := strings.ToLower(name)
	for suffix, fileType := range fileTypeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fileType, true
		}
	}
	return "", false
}
