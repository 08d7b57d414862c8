package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Maker renders marketing images for a product and returns their
// locations (file paths or URLs).
type Maker interface {
	Cover(ctx context.Context, productID, prompt string) (string, error)
	Thumbnails(ctx context.Context, productID, prompt string, n int) ([]string, error)
}

// Placeholder writes simple SVG placeholders into the workspace until a
// real image backend is wired. The prompt text is embedded so reviewers
// can check what would have been rendered.
type Placeholder struct {
	Dir string
}

func (p Placeholder) dir() string {
	if p.Dir == "" {
		return filepath.Join(".factory", "images")
	}
	return p.Dir
}

func (p Placeholder) write(name, label, prompt string) (string, error) {
	if err := os.MkdirAll(p.dir(), 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.dir(), name)
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1200" height="800">
<rect width="1200" height="800" fill="#1f2430"/>
<text x="60" y="120" font-size="48" fill="#e8e8e8">%s</text>
<text x="60" y="200" font-size="20" fill="#9aa3b2">%s</text>
</svg>`, escape(label), escape(truncate(prompt, 160)))
	if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p Placeholder) Cover(_ context.Context, productID, prompt string) (string, error) {
	return p.write(productID+"_cover.svg", "Cover", prompt)
}

func (p Placeholder) Thumbnails(_ context.Context, productID, prompt string, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	var paths []string
	for i := 1; i <= n; i++ {
		path, err := p.write(fmt.Sprintf("%s_thumb_%d.svg", productID, i), fmt.Sprintf("Thumbnail %d", i), prompt)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
