// Package imagestore resolves firmware image names to the source URL a
// device copies them from.
package imagestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetup/fleetup/pkg/util"
)

// Source returns the URL a device can copy image from.
type Source interface {
	URL(ctx context.Context, image string) (string, error)
}

// StaticSource serves every image from one server directory, e.g.
// "ftp://10.0.0.5/" or "tftp://10.0.0.5/images/".
type StaticSource struct {
	Prefix string
}

// NewStaticSource returns a source for the server directory at prefix. A
// missing trailing slash is added.
func NewStaticSource(prefix string) (*StaticSource, error) {
	if prefix == "" {
		return nil, fmt.Errorf("image server: %w", util.ErrInvalidConfig)
	}
	if !strings.Contains(prefix, "://") && !strings.HasSuffix(prefix, ":") {
		return nil, fmt.Errorf("image server %q has no scheme: %w", prefix, util.ErrInvalidConfig)
	}
	if strings.Contains(prefix, "://") && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &StaticSource{Prefix: prefix}, nil
}

// URL implements Source.
func (s *StaticSource) URL(ctx context.Context, image string) (string, error) {
	return s.Prefix + image, nil
}
