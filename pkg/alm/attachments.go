package alm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

func findAttachment(list []types.Attachment, id string) (types.Attachment, error) {
	for _, a := range list {
		if a.ID == id {
			return a, nil
		}
	}
	return types.Attachment{}, fmt.Errorf("%w: %s", types.ErrAttachmentNotFound, id)
}

// readFile returns the base name and content of the file at path.
func readFile(path string) (string, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

// writeFile stores data at path.
func writeFile(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = f.Write(data)
	return err
}

// saveAttachment downloads a and writes it to path.
func (c *Client) saveAttachment(ctx context.Context, a types.Attachment, path string) error {
	data, err := c.Download(ctx, a)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}
