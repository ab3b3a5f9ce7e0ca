package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// Dir archives overlays as text files under a local directory.
type Dir struct {
	Root string
}

// NewDir creates a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) Archive(ctx context.Context, rec *domain.Record, text string) error {
	p := filepath.Join(d.Root, filepath.FromSlash(ObjectName(rec)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("Dir.Archive: creating %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, Render(rec, text), 0o644); err != nil {
		return fmt.Errorf("Dir.Archive: writing %s: %w", p, err)
	}
	return nil
}

var _ Archiver = (*Dir)(nil)
