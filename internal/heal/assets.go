package heal

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	"github.com/spf13/afero"
	"github.com/stoewer/go-strcase"
)

// ErrManifestIncomplete aborts a redeploy when a shared payment file is absent.
var ErrManifestIncomplete = errors.New("shared manifest incomplete")

// SharedManifest is the payment API surface every storefront ships with.
var SharedManifest = []string{
	"api/pay/start.js",
	"api/pay/status.js",
	"api/pay/webhook.js",
	"api/pay/token.js",
	"api/pay/download.js",
	"api/health.js",
	"package.json",
	"vercel.json",
}

const promotionSourceFile = "promotion.md"

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// slugify lowercases title into a kebab-case deployment name.
func slugify(title string) string {
	cleaned := strings.TrimSpace(nonAlnum.ReplaceAllString(title, " "))
	if cleaned == "" {
		return "product"
	}
	return strcase.KebabCase(strings.ToLower(cleaned))
}

// targetIDFor keeps an existing project id, otherwise derives one from the
// title and the redeploy time.
func targetIDFor(projectID, title string, at time.Time) string {
	if id := strings.TrimSpace(projectID); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", slugify(title), at.Unix())
}

type assetCollector struct {
	fs          afero.Fs
	outputsDir  string
	sharedDir   string
	deliverable string
}

// collect returns the product's static assets plus the shared manifest,
// sorted by path. Manifest files win on path collisions.
func (a assetCollector) collect(productID string) ([]deploy.File, error) {
	files := map[string][]byte{}

	root := filepath.Join(a.outputsDir, productID)
	exists, err := afero.DirExists(a.fs, root)
	if err != nil {
		return nil, fmt.Errorf("stat product assets: %w", err)
	}
	if exists {
		err = afero.Walk(a.fs, root, func(p string, info fs.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == a.deliverable || rel == promotionSourceFile {
				return nil
			}
			data, err := afero.ReadFile(a.fs, p)
			if err != nil {
				return err
			}
			files[rel] = data
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read product assets: %w", err)
		}
	}

	var missing []string
	for _, name := range SharedManifest {
		data, err := afero.ReadFile(a.fs, filepath.Join(a.sharedDir, filepath.FromSlash(name)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				missing = append(missing, name)
				continue
			}
			return nil, fmt.Errorf("read shared %s: %w", name, err)
		}
		files[path.Clean(name)] = data
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrManifestIncomplete, strings.Join(missing, ", "))
	}

	out := make([]deploy.File, 0, len(files))
	for p, data := range files {
		out = append(out, deploy.File{Path: p, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
