package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidOrigin is returned when a project does not declare exactly one
// source origin (git or archive).
var ErrInvalidOrigin = errors.New("project must declare exactly one of git or archive")

// HashAlgorithm identifies the digest algorithm used to verify archives.
type HashAlgorithm string

const (
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
)

// Document is the desired-set document read from standard input.
type Document struct {
	Projects []Project `json:"projects"`
}

// Project describes one project to keep registered and indexed.
type Project struct {
	Name    string         `json:"name"`
	Git     *GitOrigin     `json:"git,omitempty"`
	Archive *ArchiveOrigin `json:"archive,omitempty"`
}

// GitOrigin acquires source from a git repository.
type GitOrigin struct {
	URL   string `json:"url"`
	Ref   string `json:"ref,omitempty"`
	Depth int    `json:"depth,omitempty"`
}

// ArchiveOrigin acquires source from a downloadable archive file.
type ArchiveOrigin struct {
	URL       string  `json:"url"`
	Extension string  `json:"extension,omitempty"`
	Digest    *Digest `json:"digest,omitempty"`
}

// Digest is an expected content hash for a downloaded archive.
type Digest struct {
	Algorithm HashAlgorithm `json:"algorithm"`
	Value     string        `json:"value"`
}

// Parse decodes and validates a desired-set document, returning the projects
// keyed by name.
func Parse(r io.Reader) (map[string]Project, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse project definitions: %w", err)
	}

	projects := make(map[string]Project, len(doc.Projects))
	for _, p := range doc.Projects {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid project %q: %w", p.Name, err)
		}
		if _, ok := projects[p.Name]; ok {
			return nil, fmt.Errorf("duplicate project name: %s", p.Name)
		}
		projects[p.Name] = p
	}

	return projects, nil
}

// Validate checks the project definition for errors.
func (p Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}

	if (p.Git == nil) == (p.Archive == nil) {
		return ErrInvalidOrigin
	}

	if p.Git != nil {
		if p.Git.URL == "" {
			return fmt.Errorf("git.url is required")
		}
		if p.Git.Depth < 0 {
			return fmt.Errorf("git.depth must be positive: %d", p.Git.Depth)
		}
	}

	if p.Archive != nil {
		if p.Archive.URL == "" {
			return fmt.Errorf("archive.url is required")
		}
		if d := p.Archive.Digest; d != nil {
			switch d.Algorithm {
			case HashSHA1, HashSHA256:
				// valid
			default:
				return fmt.Errorf("archive.digest.algorithm must be sha1 or sha256: %s", d.Algorithm)
			}
			if d.Value == "" {
				return fmt.Errorf("archive.digest.value is required")
			}
		}
	}

	return nil
}

// Origin returns the origin kind for logging.
func (p Project) Origin() string {
	switch {
	case p.Git != nil:
		return "git"
	case p.Archive != nil:
		return "archive"
	default:
		return "none"
	}
}

// Equal reports whether two project definitions are identical, including
// their origin details. The reconciler uses this to decide whether an
// existing checkout and registration can be reused.
func (p Project) Equal(other Project) bool {
	if p.Name != other.Name {
		return false
	}
	if !p.Git.equal(other.Git) {
		return false
	}
	return p.Archive.Equal(other.Archive)
}

func (g *GitOrigin) equal(other *GitOrigin) bool {
	if g == nil || other == nil {
		return g == other
	}
	return *g == *other
}

// Equal reports whether two archive origins are identical field by field.
func (a *ArchiveOrigin) Equal(other *ArchiveOrigin) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.URL != other.URL || a.Extension != other.Extension {
		return false
	}
	if a.Digest == nil || other.Digest == nil {
		return a.Digest == other.Digest
	}
	return *a.Digest == *other.Digest
}
