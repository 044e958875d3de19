package ingest

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/patchfox-io/input-service/internal/purl"
)

// ErrNoUsableGraph is returned when neither a dependency graph file nor SBOM
// data could produce a tree for a project.
var ErrNoUsableGraph = errors.New("no usable dependency graph")

// ErrEmptyGraph is returned when the built tree has no children. An empty
// tree is worthless downstream and confuses the analysis pipeline, so it is
// rejected instead of stored.
var ErrEmptyGraph = errors.New("dependency graph has no children")

// PackageNode is one node of the per-event dependency tree. The root
// represents the project itself; children are its packages. The tree is
// serialized as JSON into the event payload and never persisted on its own.
type PackageNode struct {
	PURL        string            `json:"purl"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Type        string            `json:"type,omitempty"`
	License     string            `json:"license,omitempty"`
	SBOMDerived bool              `json:"sbomDerived,omitempty"`
	Blame       *BlameInfo        `json:"blame,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Children    []*PackageNode    `json:"children,omitempty"`
}

// BlameInfo carries the git blame attribution of a dependency declaration.
type BlameInfo struct {
	Author      string `json:"author,omitempty"`
	Email       string `json:"email,omitempty"`
	CommitHash  string `json:"commitHash,omitempty"`
	CommittedAt string `json:"committedAt,omitempty"`
}

// packageFacts is auxiliary per-package data accumulated from SBOM and build
// metadata files, merged into the tree after the root is settled.
type packageFacts struct {
	License  string
	Metadata map[string]string
}

// Walk calls fn for the node and every descendant, depth first.
func (n *PackageNode) Walk(fn func(*PackageNode)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// BuildGraph turns one project's classified bundle into a rooted dependency
// tree. A blame-annotated build file supplies the tree directly; when none
// parses, the tree is reconstructed from SBOM data and flagged as
// SBOM-derived. Auxiliary package facts from every file are merged into the
// final tree by purl.
func BuildGraph(id purl.EventIdentifier, files []DataFile, logger zerolog.Logger) (*PackageNode, error) {
	var root *PackageNode
	var sbom *syftDocument
	facts := make(map[string]packageFacts)

	for _, file := range files {
		switch file.Type {
		case BuildFileGitBlame:
			parsed, err := parseBlameGraph(file.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", file.Path).Msg("unparseable build file, skipping")
				continue
			}
			if root != nil {
				// More than one graph file in a bundle is malformed
				// input; the last one processed wins.
				logger.Warn().Str("path", file.Path).Msg("replacing previously parsed dependency graph")
			}
			root = parsed
		case SyftSBOM:
			parsed, err := parseSyftSBOM(file.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", file.Path).Msg("unparseable SBOM, skipping")
				continue
			}
			sbom = parsed
			mergeFacts(facts, parsed.packageFacts())
		case ETLBuildMetadata:
			parsed, err := parseBuildMetadata(file.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", file.Path).Msg("unparseable build metadata, skipping")
				continue
			}
			mergeFacts(facts, parsed.packageFacts())
		default:
			logger.Warn().Str("type", string(file.Type)).Str("path", file.Path).Msg("unhandled file type in bundle")
		}
	}

	if root == nil {
		if sbom == nil {
			return nil, fmt.Errorf("project %s: %w", id.Repository, ErrNoUsableGraph)
		}
		reconstructed, err := sbom.dependencyTree(id)
		if err != nil {
			return nil, fmt.Errorf("project %s: reconstruct tree from SBOM: %w", id.Repository, err)
		}
		root = reconstructed
		root.SBOMDerived = true
	}

	root.Name = id.Repository
	disseminateFacts(root, facts)

	if len(root.Children) == 0 {
		return nil, fmt.Errorf("project %s: %w", id.Repository, ErrEmptyGraph)
	}
	return root, nil
}

func mergeFacts(dst map[string]packageFacts, src map[string]packageFacts) {
	for purlKey, incoming := range src {
		existing, ok := dst[purlKey]
		if !ok {
			dst[purlKey] = incoming
			continue
		}
		if existing.License == "" {
			existing.License = incoming.License
		}
		if len(incoming.Metadata) > 0 {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]string, len(incoming.Metadata))
			}
			for k, v := range incoming.Metadata {
				if _, present := existing.Metadata[k]; !present {
					existing.Metadata[k] = v
				}
			}
		}
		dst[purlKey] = existing
	}
}

// disseminateFacts pushes accumulated package facts down to matching child
// nodes by purl. The root keeps its identity from the event.
func disseminateFacts(root *PackageNode, facts map[string]packageFacts) {
	root.Walk(func(node *PackageNode) {
		if node == root {
			return
		}
		fact, ok := facts[node.PURL]
		if !ok {
			return
		}
		if node.License == "" {
			node.License = fact.License
		}
		if len(fact.Metadata) > 0 {
			if node.Metadata == nil {
				node.Metadata = make(map[string]string, len(fact.Metadata))
			}
			for k, v := range fact.Metadata {
				if _, present := node.Metadata[k]; !present {
					node.Metadata[k] = v
				}
			}
		}
	})
}
