package workspace

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"
)

// Artifact is a file the program wrote under output/, returned to the
// client base64-encoded with a mime type inferred from its extension.
type Artifact struct {
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

const (
	// ArtifactDir is the workspace subtree programs write artifacts to.
	ArtifactDir = "output"

	fallbackMimeType = "application/octet-stream"
)

// ArchiveReader is the slice of the container API needed to pull an
// archive out of a container.
type ArchiveReader interface {
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// CollectArtifacts gathers the files of the in-container output
// directory. When a container ID is given its archive is requested and
// extracted into the workspace first; the workspace output/ subtree —
// which the bind mount keeps in sync with the container — is then
// enumerated. A missing output directory is not an error and yields an
// empty map.
func CollectArtifacts(ctx context.Context, api ArchiveReader, containerID, containerWorkDir string, ws *Workspace, logger *zap.Logger) (map[string]Artifact, error) {
	if containerID != "" {
		if err := fetchArchive(ctx, api, containerID, containerWorkDir, ws); err != nil {
			logger.Warn("artifact archive unavailable",
				zap.String("containerId", containerID), zap.Error(err))
		}
	}

	artifacts := make(map[string]Artifact)
	root := ws.Path(ArtifactDir)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		artifacts[filepath.ToSlash(rel)] = Artifact{
			MimeType: MimeTypeByName(rel),
			Content:  EncodeBase64(data),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return artifacts, nil
		}
		return nil, fmt.Errorf("enumerate artifacts: %w", err)
	}
	return artifacts, nil
}

func fetchArchive(ctx context.Context, api ArchiveReader, containerID, containerWorkDir string, ws *Workspace) error {
	rc, _, err := api.CopyFromContainer(ctx, containerID, containerWorkDir+"/"+ArtifactDir)
	if err != nil {
		return err
	}
	defer rc.Close()
	return extractTar(rc, ws)
}

func extractTar(r io.Reader, ws *Workspace) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.ToSlash(hdr.Name)
		if err := CheckRelPath(name); err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(ws.Path(name), 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			data, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			if err := ws.WriteFile(name, data); err != nil {
				return err
			}
		}
	}
}

// MimeTypeByName infers a mime type from the file extension, falling back
// to application/octet-stream.
func MimeTypeByName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		// strip optional parameters such as "; charset=utf-8"
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return fallbackMimeType
}
