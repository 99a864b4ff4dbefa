package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
)

func TestRules(t *testing.T) {
	tests := []struct {
		name         string
		instructions string
		wantRepo     string
		wantRegion   string
		wantVars     map[string]any
	}{
		{
			name:         "direct region and port",
			instructions: "Deploy https://github.com/acme/shop.git in eu-central-1 on port 8080",
			wantRepo:     "https://github.com/acme/shop.git",
			wantRegion:   "eu-central-1",
			wantVars:     map[string]any{"port": 8080},
		},
		{
			name:         "alias and size",
			instructions: "put a tiny flask app in Tokyo, health check /healthz, auto-destroy in 24h",
			wantRegion:   "ap-northeast-1",
			wantVars:     map[string]any{"instance_size": "micro", "health_path": "/healthz", "ttl_hours": 24},
		},
		{
			name:         "instance type",
			instructions: "use a t3.medium in northern virginia",
			wantRegion:   "us-east-1",
			wantVars:     map[string]any{"instance_type": "t3.medium", "instance_size": "medium"},
		},
		{
			name:         "nothing",
			instructions: "deploy it",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rules{}.Resolve(context.Background(), entity.Parameters{Instructions: tt.instructions})
			require.NoError(t, err)
			assert.Equal(t, tt.wantRepo, got.Repo)
			assert.Equal(t, tt.wantRegion, got.Region)
			if tt.wantVars == nil {
				assert.Empty(t, got.Vars)
			} else {
				assert.Equal(t, tt.wantVars, got.Vars)
			}
		})
	}
}

func TestRulesKeepExplicitValues(t *testing.T) {
	got, err := Rules{}.Resolve(context.Background(), entity.Parameters{
		Instructions: "deploy https://github.com/acme/other in oregon on port 9000",
		Repo:         "https://github.com/acme/app",
		Region:       "eu-west-1",
		Vars:         map[string]any{"port": 3000},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/app", got.Repo)
	assert.Equal(t, "eu-west-1", got.Region)
	assert.Equal(t, 3000, got.Vars["port"])
}

type failing struct{}

func (failing) Resolve(context.Context, entity.Parameters) (entity.Parameters, error) {
	return entity.Parameters{}, errors.New("provider unavailable")
}

type mutating struct{}

func (mutating) Resolve(_ context.Context, p entity.Parameters) (entity.Parameters, error) {
	p.Vars["touched"] = true
	return p, errors.New("half done")
}

func TestChainFallsBack(t *testing.T) {
	in := entity.Parameters{
		Instructions: "deploy to london",
		Repo:         "https://github.com/acme/app",
		Vars:         map[string]any{"a": 1},
	}
	chain := Chain{failing{}, mutating{}, Rules{}, Defaults{Region: "us-west-2", TemplateDir: "/tpl"}}
	got, err := chain.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-2", got.Region)
	assert.Equal(t, "/tpl", got.TemplateDir)
	assert.Equal(t, "https://github.com/acme/app", got.Repo)
	assert.NotContains(t, got.Vars, "touched")
	assert.NotContains(t, in.Vars, "touched")
}

func TestDefaultsRegion(t *testing.T) {
	got, err := Chain{Rules{}, Defaults{Region: "us-west-2"}}.Resolve(context.Background(), entity.Parameters{Instructions: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", got.Region)
}
