package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/patchfox-io/input-service/internal/purl"
)

// syftDocument is the subset of syft's JSON output this service consumes.
// Fields syft emits beyond these are ignored.
type syftDocument struct {
	Artifacts             []syftArtifact     `json:"artifacts"`
	ArtifactRelationships []syftRelationship `json:"artifactRelationships"`
	Source                syftSource         `json:"source"`
}

type syftArtifact struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Type     string        `json:"type"`
	PURL     string        `json:"purl"`
	Language string        `json:"language"`
	Licenses []syftLicense `json:"licenses"`
}

type syftLicense struct {
	Value string `json:"value"`
}

type syftRelationship struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Type   string `json:"type"`
}

type syftSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// relationship types that encode graph nesting between artifacts.
const syftDependencyOf = "dependency-of"

func parseSyftSBOM(path string) (*syftDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SBOM: %w", err)
	}
	var doc syftDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode SBOM: %w", err)
	}
	return &doc, nil
}

// packageFacts extracts per-package license data keyed by purl. Artifacts
// without a purl cannot be matched to tree nodes and are skipped.
func (d *syftDocument) packageFacts() map[string]packageFacts {
	facts := make(map[string]packageFacts, len(d.Artifacts))
	for _, artifact := range d.Artifacts {
		if artifact.PURL == "" {
			continue
		}
		fact := packageFacts{}
		if len(artifact.Licenses) > 0 {
			fact.License = artifact.Licenses[0].Value
		}
		if artifact.Language != "" {
			fact.Metadata = map[string]string{"language": artifact.Language}
		}
		facts[artifact.PURL] = fact
	}
	return facts
}

// dependencyTree reconstructs a rooted tree from the SBOM alone, used when
// the bundle carries no graph file. Nesting follows dependency-of
// relationships where syft recorded them; artifacts nobody depends on become
// direct children of the root. The SBOM may carry no relationship data at
// all, in which case every package is a direct child.
func (d *syftDocument) dependencyTree(id purl.EventIdentifier) (*PackageNode, error) {
	root := &PackageNode{
		PURL:    id.DatasourcePURL,
		Name:    id.Repository,
		Version: id.DatasourceType,
		Type:    "generic",
	}

	nodes := make(map[string]*PackageNode, len(d.Artifacts))
	order := make([]string, 0, len(d.Artifacts))
	for _, artifact := range d.Artifacts {
		if artifact.PURL == "" {
			continue
		}
		node := &PackageNode{
			PURL:    artifact.PURL,
			Name:    artifact.Name,
			Version: artifact.Version,
			Type:    artifact.Type,
		}
		if len(artifact.Licenses) > 0 {
			node.License = artifact.Licenses[0].Value
		}
		nodes[artifact.ID] = node
		order = append(order, artifact.ID)
	}

	nested := make(map[string]bool, len(nodes))
	for _, rel := range d.ArtifactRelationships {
		if rel.Type != syftDependencyOf {
			continue
		}
		// "X dependency-of Y" nests X under Y.
		child, okChild := nodes[rel.Parent]
		parent, okParent := nodes[rel.Child]
		if !okChild || !okParent || child == parent {
			continue
		}
		if nested[rel.Parent] {
			continue
		}
		parent.Children = append(parent.Children, child)
		nested[rel.Parent] = true
	}

	for _, artifactID := range order {
		if !nested[artifactID] {
			root.Children = append(root.Children, nodes[artifactID])
		}
	}
	return root, nil
}
