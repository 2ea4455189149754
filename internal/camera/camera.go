// Package camera holds the read-only camera registry. Enumeration is a
// black-box external collaborator per the spec: this package only defines
// the contract and a simple static implementation backed by the parsed
// configuration, filtered by camera.prefix.
package camera

import "strings"

// Camera is one entry in the read-only camera repository.
type Camera struct {
	ID       int
	RTSPURL  string
	Width    int
	Height   int
	Prefix   string
}

// Repository enumerates cameras once at startup. Implementations may back
// onto a file, a database, or a remote registry service — the pipeline
// only ever calls List once, at Orchestrator startup.
type Repository interface {
	List() ([]Camera, error)
}

// StaticRepository is a Repository backed by an in-memory list, typically
// populated from the configuration file's camera section.
type StaticRepository struct {
	cameras []Camera
	prefix  string
}

// NewStaticRepository returns a Repository that filters cameras by prefix
// (an empty prefix matches everything).
func NewStaticRepository(cameras []Camera, prefix string) *StaticRepository {
	return &StaticRepository{cameras: cameras, prefix: prefix}
}

// List returns the configured cameras whose RTSPURL or Prefix starts with
// the configured prefix (camera.prefix in the configuration).
func (s *StaticRepository) List() ([]Camera, error) {
	if s.prefix == "" {
		out := make([]Camera, len(s.cameras))
		copy(out, s.cameras)
		return out, nil
	}
	var out []Camera
	for _, c := range s.cameras {
		if strings.HasPrefix(c.RTSPURL, s.prefix) || strings.HasPrefix(c.Prefix, s.prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}
