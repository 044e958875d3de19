// Package purl validates incoming event identifiers. An event identifier is a
// package-url of type "generic" whose name encodes a repository and branch and
// whose qualifiers pin a commit. Validation is pure: no I/O, no clock, no
// side effects.
package purl

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	packageurl "github.com/package-url/packageurl-go"
)

const (
	// QualifierCommitHash and QualifierCommitDatetime are the only qualifier
	// keys an event identifier may carry.
	QualifierCommitHash     = "commithash"
	QualifierCommitDatetime = "commitdatetime"

	maxSegmentLen = 256
	maxNameLen    = 512

	nameSeparator = "::"
)

// charFilter is the allow-list applied to namespace, name segments and
// version. Anything outside it is rejected before further inspection.
var charFilter = regexp.MustCompile(`^[-a-zA-Z0-9._/\\%:]+$`)

var commitHashPattern = regexp.MustCompile(`^([0-9a-f]{40}|[0-9a-f]{64})$`)

// EventIdentifier is the decomposed, validated form of an event purl.
type EventIdentifier struct {
	// Domain is the purl namespace, the tenant the event belongs to.
	Domain string
	// Repository and Branch are the two halves of the purl name.
	Repository string
	Branch     string
	// PackedName is the original "repository::branch" name.
	PackedName string
	// DatasourceType is the purl version field, which carries the kind of
	// datasource the snapshot was taken from (e.g. "npm", "maven", "git").
	DatasourceType string
	// CommitHash is the lowercase sha1 or sha256 of the snapshot commit.
	CommitHash string
	// CommitDatetime is the timezone-aware commit timestamp.
	CommitDatetime time.Time
	// DatasourcePURL identifies the datasource: the event purl stripped of
	// its qualifiers. Domain, repository, branch and datasource type
	// together key the datasource.
	DatasourcePURL string
	// EventPURL is the raw identifier as received.
	EventPURL string
}

// ValidationError reports why an identifier was rejected. The reason is safe
// to echo back to the producer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event identifier: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseEventIdentifier validates raw against the event identifier rules.
// expectedDomain is the deployment's tenant domain; "*" accepts any domain.
// On failure the returned error is always a *ValidationError.
func ParseEventIdentifier(raw, expectedDomain string) (EventIdentifier, error) {
	instance, err := packageurl.FromString(raw)
	if err != nil {
		return EventIdentifier{}, invalid("purl", "not a parseable package-url: %v", err)
	}

	if instance.Type != packageurl.TypeGeneric {
		return EventIdentifier{}, invalid("type", "must be %q, got %q", packageurl.TypeGeneric, instance.Type)
	}

	if err := checkSegment("namespace", instance.Namespace, maxSegmentLen); err != nil {
		return EventIdentifier{}, err
	}
	if expectedDomain != "*" && instance.Namespace != expectedDomain {
		return EventIdentifier{}, invalid("namespace", "domain %q is not served here", instance.Namespace)
	}

	repository, branch, err := splitName(instance.Name)
	if err != nil {
		return EventIdentifier{}, err
	}

	if err := checkSegment("version", instance.Version, maxSegmentLen); err != nil {
		return EventIdentifier{}, err
	}

	if instance.Subpath != "" {
		return EventIdentifier{}, invalid("subpath", "must be absent, got %q", instance.Subpath)
	}

	commitHash, commitDatetime, err := parseQualifiers(instance.Qualifiers)
	if err != nil {
		return EventIdentifier{}, err
	}

	return EventIdentifier{
		Domain:         instance.Namespace,
		Repository:     repository,
		Branch:         branch,
		PackedName:     instance.Name,
		DatasourceType: instance.Version,
		CommitHash:     commitHash,
		CommitDatetime: commitDatetime,
		DatasourcePURL: datasourcePURL(instance.Type, instance.Namespace, instance.Name, instance.Version),
		EventPURL:      raw,
	}, nil
}

func checkSegment(field, value string, maxLen int) error {
	if value == "" {
		return invalid(field, "must not be empty")
	}
	if len(value) > maxLen {
		return invalid(field, "longer than %d characters", maxLen)
	}
	if !charFilter.MatchString(value) {
		return invalid(field, "contains characters outside the allowed set")
	}
	return nil
}

func splitName(name string) (repository, branch string, err error) {
	if err := checkSegment("name", name, maxNameLen); err != nil {
		return "", "", err
	}
	parts := strings.Split(name, nameSeparator)
	if len(parts) != 2 {
		return "", "", invalid("name", "must contain exactly one %q separating repository and branch", nameSeparator)
	}
	repository, branch = parts[0], parts[1]
	if strings.TrimSpace(repository) == "" {
		return "", "", invalid("name", "repository part is blank")
	}
	if strings.TrimSpace(branch) == "" {
		return "", "", invalid("name", "branch part is blank")
	}
	if len(repository) > maxSegmentLen {
		return "", "", invalid("name", "repository part longer than %d characters", maxSegmentLen)
	}
	if len(branch) > maxSegmentLen {
		return "", "", invalid("name", "branch part longer than %d characters", maxSegmentLen)
	}
	return repository, branch, nil
}

func parseQualifiers(qualifiers packageurl.Qualifiers) (commitHash string, commitDatetime time.Time, err error) {
	seen := make(map[string]string, len(qualifiers))
	for _, q := range qualifiers {
		key := strings.ToLower(q.Key)
		if _, dup := seen[key]; dup {
			return "", time.Time{}, invalid("qualifiers", "duplicate key %q", key)
		}
		switch key {
		case QualifierCommitHash, QualifierCommitDatetime:
			seen[key] = q.Value
		default:
			return "", time.Time{}, invalid("qualifiers", "unexpected key %q", key)
		}
	}

	hash, ok := seen[QualifierCommitHash]
	if !ok {
		return "", time.Time{}, invalid("qualifiers", "missing %q", QualifierCommitHash)
	}
	hash = strings.ToLower(hash)
	if !commitHashPattern.MatchString(hash) {
		return "", time.Time{}, invalid(QualifierCommitHash, "must be a 40- or 64-character hex digest")
	}

	stamp, ok := seen[QualifierCommitDatetime]
	if !ok {
		return "", time.Time{}, invalid("qualifiers", "missing %q", QualifierCommitDatetime)
	}
	parsed, parseErr := time.Parse(time.RFC3339, stamp)
	if parseErr != nil {
		return "", time.Time{}, invalid(QualifierCommitDatetime, "must be a timezone-aware RFC 3339 timestamp: %v", parseErr)
	}

	return hash, parsed, nil
}

// datasourcePURL rebuilds the identifier without its qualifiers. The inputs
// have already passed the character filter, so plain concatenation is
// canonical enough for use as a unique key.
func datasourcePURL(purlType, namespace, name, version string) string {
	return fmt.Sprintf("pkg:%s/%s/%s@%s", purlType, namespace, name, version)
}
