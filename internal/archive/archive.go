// Package archive packs repository working trees into a gzip-compressed tar
// and unpacks them again.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

// VCSDir marks a directory as a repository worth archiving.
const VCSDir = ".git"

var presetTokens = map[snapshot.Preset][]string{
	snapshot.PresetLight:  {"node_modules", ".pnpm-store", "dist", ".log"},
	snapshot.PresetMedium: {".pnpm-store", ".log"},
	snapshot.PresetHeavy:  nil,
}

// ExcludeTokens returns the substrings that drop a path from an archive
// built with preset.
func ExcludeTokens(preset snapshot.Preset) []string {
	return append([]string(nil), presetTokens[preset]...)
}

// Excluded reports whether rel, a path inside one repository, contains any
// token. The repository's own directory name is never matched.
func Excluded(rel string, tokens []string) bool {
	for _, tok := range tokens {
		if tok != "" && strings.Contains(rel, tok) {
			return true
		}
	}
	return false
}

// Level is the gzip level used for preset.
func Level(preset snapshot.Preset) int {
	if preset == snapshot.PresetHeavy {
		return 6
	}
	return gzip.BestCompression
}

// Result describes a finished archive.
type Result struct {
	// Included holds the source paths that were packed, in input order.
	Included []string
	Files    int
	Size     int64
}

type Builder struct {
	fs            afero.Fs
	log           logrus.FieldLogger
	extraExcludes []string
}

// NewBuilder returns a Builder over fs. extraExcludes are appended to the
// preset tokens for every preset except heavy.
func NewBuilder(fs afero.Fs, log logrus.FieldLogger, extraExcludes ...string) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{fs: fs, log: log, extraExcludes: extraExcludes}
}

func (b *Builder) tokens(preset snapshot.Preset) []string {
	tokens := ExcludeTokens(preset)
	if preset != snapshot.PresetHeavy {
		tokens = append(tokens, b.extraExcludes...)
	}
	return tokens
}

// Build writes dest containing every path in paths that has a VCSDir.
// Missing paths and non-repositories are skipped. An archive with no
// repositories is not an error here.
func (b *Builder) Build(paths []string, preset snapshot.Preset, dest string) (*Result, error) {
	if !preset.Valid() {
		return nil, fmt.Errorf("invalid preset %q", preset)
	}

	f, err := b.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, Level(preset))
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	res := &Result{}
	tokens := b.tokens(preset)
	seen := make(map[string]string)
	for _, p := range paths {
		if !b.isRepository(p) {
			b.log.WithField("path", p).Debug("skipping path without repository")
			continue
		}
		base := filepath.Base(filepath.Clean(p))
		if prev, ok := seen[base]; ok {
			b.log.WithFields(logrus.Fields{"path": p, "conflicts_with": prev}).Warn("skipping repository with duplicate directory name")
			continue
		}
		seen[base] = p

		n, err := b.addTree(tw, p, base, tokens)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", p, err)
		}
		res.Included = append(res.Included, p)
		res.Files += n
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	info, err := b.fs.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	res.Size = info.Size()
	return res, nil
}

func (b *Builder) isRepository(p string) bool {
	info, err := b.fs.Stat(filepath.Join(p, VCSDir))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

func (b *Builder) addTree(tw *tar.Writer, root, base string, tokens []string) (int, error) {
	files := 0
	err := afero.Walk(b.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := path.Join(base, rel)
		if rel != "." && Excluded(rel, tokens) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			reader, ok := b.fs.(afero.LinkReader)
			if !ok {
				return nil
			}
			if link, err = reader.ReadlinkIfPossible(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := b.fs.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return err
		}
		files++
		return nil
	})
	return files, err
}

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction root.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Unpack extracts archivePath into dest and returns the top-level entries it
// created, in archive order.
func Unpack(fs afero.Fs, archivePath, dest string) ([]string, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	defer gz.Close()

	if err := fs.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}

	var roots []string
	seen := make(map[string]bool)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return roots, fmt.Errorf("read tar: %w", err)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return roots, err
		}
		if top := strings.SplitN(path.Clean(hdr.Name), "/", 2)[0]; !seen[top] {
			seen[top] = true
			roots = append(roots, top)
		}

		if err := checkParents(fs, dest, target); err != nil {
			return roots, fmt.Errorf("%w: %s", err, hdr.Name)
		}
		if err := writeEntry(fs, tr, hdr, target); err != nil {
			return roots, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
	return roots, nil
}

func entryPath(dest, name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

// checkParents rejects targets whose directories below dest include a
// symlink, so an entry cannot be redirected through a link extracted earlier.
func checkParents(fs afero.Fs, dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	dir := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		info, err := lstat(fs, dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return ErrUnsafePath
		}
	}
	return nil
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}

// clearTarget removes whatever non-directory already sits at target.
// Read-only files such as git objects cannot be truncated in place.
func clearTarget(fs afero.Fs, target string) error {
	info, err := lstat(fs, target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	return fs.Remove(target)
}

func writeEntry(fs afero.Fs, r io.Reader, hdr *tar.Header, target string) error {
	mode := os.FileMode(hdr.Mode).Perm()
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := clearTarget(fs, target); err != nil {
			return err
		}
		return fs.MkdirAll(target, mode|0700)
	case tar.TypeReg:
		if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := clearTarget(fs, target); err != nil {
			return err
		}
		out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	case tar.TypeSymlink:
		linker, ok := fs.(afero.Linker)
		if !ok {
			return nil
		}
		if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := clearTarget(fs, target); err != nil {
			return err
		}
		return linker.SymlinkIfPossible(hdr.Linkname, target)
	default:
		return nil
	}
}
