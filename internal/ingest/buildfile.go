package ingest

import (
	"encoding/json"
	"fmt"
	"os"
)

// blameGraphFile is the extraction pipeline's blame-annotated build file: the
// project's declared dependency graph, each declaration attributed to the
// commit that introduced it.
type blameGraphFile struct {
	Project string          `json:"project"`
	Root    blameGraphEntry `json:"root"`
}

type blameGraphEntry struct {
	PURL     string            `json:"purl"`
	Name     string            `json:"name"`
	Version  string            `json:"version,omitempty"`
	Type     string            `json:"type,omitempty"`
	License  string            `json:"license,omitempty"`
	Blame    *BlameInfo        `json:"blame,omitempty"`
	Children []blameGraphEntry `json:"children,omitempty"`
}

func parseBlameGraph(path string) (*PackageNode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build file: %w", err)
	}
	var file blameGraphFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode build file: %w", err)
	}
	if file.Root.PURL == "" && len(file.Root.Children) == 0 {
		return nil, fmt.Errorf("build file %s carries no dependency graph", path)
	}
	return file.Root.toNode(), nil
}

func (e blameGraphEntry) toNode() *PackageNode {
	node := &PackageNode{
		PURL:    e.PURL,
		Name:    e.Name,
		Version: e.Version,
		Type:    e.Type,
		License: e.License,
		Blame:   e.Blame,
	}
	for _, child := range e.Children {
		node.Children = append(node.Children, child.toNode())
	}
	return node
}

// buildMetadataFile is the ETL sidecar carrying build environment details and
// per-package provenance collected outside the SBOM scan.
type buildMetadataFile struct {
	Project    string            `json:"project"`
	Tool       string            `json:"tool,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Packages   []struct {
		PURL     string            `json:"purl"`
		License  string            `json:"license,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"packages,omitempty"`
}

func parseBuildMetadata(path string) (*buildMetadataFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build metadata: %w", err)
	}
	var file buildMetadataFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode build metadata: %w", err)
	}
	return &file, nil
}

func (f *buildMetadataFile) packageFacts() map[string]packageFacts {
	facts := make(map[string]packageFacts, len(f.Packages))
	for _, pkg := range f.Packages {
		if pkg.PURL == "" {
			continue
		}
		facts[pkg.PURL] = packageFacts{License: pkg.License, Metadata: pkg.Metadata}
	}
	return facts
}
