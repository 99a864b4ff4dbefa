package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/go-archive"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/deployhost/internal/entity"
)

const (
	ProjectTag = "deployhost"
	VarsFile   = "terraform.tfvars.json"
)

// WorkspaceStorage owns the per-deployment working directories the
// provisioning tool runs in. Tool state lives there between phases, so a
// workspace outlives its pipeline and is what destroy operates on.
type WorkspaceStorage interface {
	Prepare(ctx context.Context, d *entity.Deployment) (string, error)
	Dir(id entity.ID) string
	Exists(id entity.ID) bool
}

type WorkspaceStorageImpl struct {
	rootDir string
	log     zerolog.Logger
}

// Prepare copies the template into a fresh workspace and writes the variables
// file. Tool artifacts in the template are left behind.
func (w *WorkspaceStorageImpl) Prepare(ctx context.Context, d *entity.Deployment) (string, error) {
	dir := w.Dir(d.ID)
	if _, err := os.Stat(d.Parameters.TemplateDir); err != nil {
		return "", fmt.Errorf("%w: template dir: %w", entity.ErrInvalid, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}

	tpl, err := archive.TarWithOptions(d.Parameters.TemplateDir, &archive.TarOptions{
		ExcludePatterns: []string{".terraform", "*.tfstate", "*.tfstate.backup", "tfplan"},
	})
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	defer tpl.Close()
	if err := archive.Untar(tpl, dir, &archive.TarOptions{NoLchown: true}); err != nil {
		return "", fmt.Errorf("copy template: %w", err)
	}

	b, err := json.MarshalIndent(TFVars(d), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode vars: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, VarsFile), b, 0o640); err != nil {
		return "", fmt.Errorf("write vars: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("workspace", dir).Str("template", d.Parameters.TemplateDir).Msg("prepared workspace")
	return dir, nil
}

func (w *WorkspaceStorageImpl) Dir(id entity.ID) string {
	return lo.Must(filepath.Abs(filepath.Join(w.rootDir, id.String())))
}

func (w *WorkspaceStorageImpl) Exists(id entity.ID) bool {
	st, err := os.Stat(w.Dir(id))
	return err == nil && st.IsDir()
}

// BaseTags are put on every resource of a deployment. User tags override
// them.
func BaseTags(d *entity.Deployment) map[string]string {
	tags := map[string]string{
		"project":       ProjectTag,
		"deployment_id": d.ID.String(),
		"created_at":    d.CreatedAt.UTC().Format(time.RFC3339),
	}
	maps.Copy(tags, d.Parameters.Tags)
	return tags
}

// TFVars renders the variables file: user vars first, then the fixed keys,
// which cannot be overridden.
func TFVars(d *entity.Deployment) map[string]any {
	vars := make(map[string]any, len(d.Parameters.Vars)+5)
	maps.Copy(vars, d.Parameters.Vars)
	vars["region"] = d.Parameters.Region
	vars["repo"] = d.Parameters.Repo
	vars["instructions"] = d.Parameters.Instructions
	vars["deployment_id"] = d.ID.String()
	vars["tags"] = BaseTags(d)
	return vars
}

func NewWorkspaceStorage(root string, log zerolog.Logger) WorkspaceStorage {
	return &WorkspaceStorageImpl{
		rootDir: root,
		log:     log,
	}
}
