// Package publish copies finished artifacts into the shared public output
// root. The root is typically served by a static file server, so every write
// goes through a path-safety policy.
package publish

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// Publisher copies files into root and reports them under urlPrefix.
type Publisher struct {
	root      string
	urlPrefix string
	logger    *slog.Logger
}

func New(root, urlPrefix string, logger *slog.Logger) *Publisher {
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Publisher{root: root, urlPrefix: urlPrefix, logger: logger}
}

// Publish copies sourcePath into the output root as publicName and returns
// the destination path plus its public URL. Republishing the same name
// overwrites in place, so retries converge on the same state.
//
// Policy: only the base name of publicName is used, symlinked sources and a
// symlinked root are refused, and the resolved destination must stay inside
// the root.
func (p *Publisher) Publish(sourcePath, publicName string) (domain.PublishedArtifact, error) {
	var none domain.PublishedArtifact

	src, err := os.Lstat(sourcePath)
	if os.IsNotExist(err) {
		return none, fmt.Errorf("%w: %s", domain.ErrSourceMissing, sourcePath)
	}
	if err != nil {
		return none, fmt.Errorf("failed to stat source %s: %w", sourcePath, err)
	}
	if src.Mode()&os.ModeSymlink != 0 {
		return none, fmt.Errorf("%w: %s", domain.ErrRefusedSymlink, sourcePath)
	}

	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return none, fmt.Errorf("failed to create output root %s: %w", p.root, err)
	}
	if info, err := os.Lstat(p.root); err != nil {
		return none, fmt.Errorf("failed to stat output root %s: %w", p.root, err)
	} else if info.Mode()&os.ModeSymlink != 0 {
		return none, fmt.Errorf("%w: %s", domain.ErrRefusedSymlink, p.root)
	}

	name := filepath.Base(publicName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return none, fmt.Errorf("%w: %q", domain.ErrPathEscape, publicName)
	}
	dst := filepath.Join(p.root, name)
	rel, err := filepath.Rel(p.root, dst)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return none, fmt.Errorf("%w: %q", domain.ErrPathEscape, publicName)
	}

	if err := copyFile(sourcePath, dst); err != nil {
		return none, err
	}

	p.logger.Debug("artifact published", "source", sourcePath, "name", name)
	return domain.PublishedArtifact{
		EnginePath: dst,
		URL:        p.urlPrefix + name,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return out.Close()
}
