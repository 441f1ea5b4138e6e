package downloads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/spf13/afero"
)

// FileResolver locates the deliverable of a product under the outputs dir.
type FileResolver struct {
	fs         afero.Fs
	outputsDir string
	fileName   string
}

func NewFileResolver(fs afero.Fs, outputsDir, fileName string) (*FileResolver, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem required")
	}
	if strings.TrimSpace(outputsDir) == "" {
		return nil, fmt.Errorf("outputs dir required")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("download file name required")
	}
	return &FileResolver{fs: fs, outputsDir: outputsDir, fileName: fileName}, nil
}

// Path returns <outputs_dir>/<product_id>/<file>.
func (r *FileResolver) Path(productID string) (string, error) {
	id := strings.TrimSpace(productID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid product id")
	}
	return filepath.Join(r.outputsDir, id, r.fileName), nil
}

// Open returns the deliverable for streaming. The caller closes the file.
func (r *FileResolver) Open(productID string) (afero.File, os.FileInfo, error) {
	path, err := r.Path(productID)
	if err != nil {
		return nil, nil, err
	}
	file, err := r.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "download file not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open download file")
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stat download file")
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "download file not found")
	}
	return file, info, nil
}

// FileName is the name offered to the client.
func (r *FileResolver) FileName() string {
	return r.fileName
}
