// Package resolve turns free-form deployment instructions into concrete
// parameters. Extracted values only fill what the caller left empty.
package resolve

import (
	"context"
	"maps"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
)

type Resolver interface {
	Resolve(ctx context.Context, p entity.Parameters) (entity.Parameters, error)
}

// Chain runs resolvers in order, each seeing the output of the previous one.
// A failing resolver is skipped.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, p entity.Parameters) (entity.Parameters, error) {
	log := zerolog.Ctx(ctx)
	for _, r := range c {
		next, err := r.Resolve(ctx, clone(p))
		if err != nil {
			if ctx.Err() != nil {
				return p, ctx.Err()
			}
			log.Warn().Err(err).Msgf("resolver %T failed, falling back", r)
			continue
		}
		p = next
	}
	return p, nil
}

// Defaults fills the fields that no resolver could determine.
type Defaults struct {
	Region      string
	TemplateDir string
}

func (d Defaults) Resolve(_ context.Context, p entity.Parameters) (entity.Parameters, error) {
	if p.Region == "" {
		p.Region = d.Region
	}
	if p.TemplateDir == "" {
		p.TemplateDir = d.TemplateDir
	}
	return p, nil
}

func clone(p entity.Parameters) entity.Parameters {
	p.Vars = maps.Clone(p.Vars)
	p.Tags = maps.Clone(p.Tags)
	return p
}
