package workspace

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Options controls how Layout places files on disk.
type Options struct {
	// Decode treats file contents as base64 payloads.
	Decode bool
	// Java scans decoded sources for a leading package declaration and
	// nests the file under the package directory path.
	Java bool
	// Prefix is an extra directory all files are placed under (e.g.
	// "test" for assignment test sources).
	Prefix string
	// Sanitize, when set, may reject a file before it is written.
	Sanitize func(name string, content []byte) error
}

var javaPackageRe = regexp.MustCompile(`(?m)^[ \t]*package[ \t]+([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)[ \t]*;`)

// Layout writes the given filename → content mapping into the workspace.
// Writes run concurrently; the call returns once every file has been
// written, or with the first error. Partial files may remain on disk in
// the error case; the workspace scope cleans them up.
func Layout(ws *Workspace, files map[string]string, opts Options) error {
	var eg errgroup.Group
	for name, content := range files {
		eg.Go(func() error {
			return layoutFile(ws, name, content, opts)
		})
	}
	return eg.Wait()
}

func layoutFile(ws *Workspace, name, content string, opts Options) error {
	if err := CheckRelPath(name); err != nil {
		return err
	}
	data := []byte(content)
	if opts.Decode {
		var err error
		if data, err = DecodeBase64(content); err != nil {
			return err
		}
	}
	if opts.Sanitize != nil {
		if err := opts.Sanitize(name, data); err != nil {
			return err
		}
	}
	dst := name
	if opts.Java {
		if pkg := JavaPackage(string(data)); pkg != "" {
			dst = path.Join(packagePath(pkg), name)
		}
	}
	if opts.Prefix != "" {
		dst = path.Join(opts.Prefix, dst)
	}
	return ws.WriteFile(dst, data)
}

// JavaPackage extracts the package declared by a Java source file, or ""
// when the file belongs to the default package.
func JavaPackage(source string) string {
	m := javaPackageRe.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return m[1]
}

func packagePath(pkg string) string {
	return strings.ReplaceAll(pkg, ".", "/")
}

// JavaSourcePath returns the workspace-relative path for a Java source
// file, nesting it under its package directory when one is declared.
func JavaSourcePath(name, source string) string {
	if pkg := JavaPackage(source); pkg != "" {
		return path.Join(packagePath(pkg), name)
	}
	return name
}
