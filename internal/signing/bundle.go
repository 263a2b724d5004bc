package signing

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/model"
)

// SignatureEntry is the archive entry holding the bundle's salt‖hash record.
const SignatureEntry = "Signature.txt"

// CreateBundle archives the manifest files, in order, followed by a signature entry
// covering their whitespace-stripped content.
func (s *Signer) CreateBundle(archive string, manifest []string) error {
	files := withoutSignature(manifest)
	if len(files) == 0 {
		return fmt.Errorf("%w: empty bundle manifest", model.ErrIO)
	}

	content, err := Content(files)
	if err != nil {
		return err
	}
	record := []byte(s.Record(content) + "\n")

	tmp, err := os.CreateTemp(filepath.Dir(archive), "."+filepath.Base(archive)+".*")
	if err != nil {
		return fmt.Errorf("create bundle: %w: %w", model.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	tw := tar.NewWriter(tmp)
	for _, f := range files {
		if err := addFile(tw, f); err != nil {
			tmp.Close()
			return err
		}
	}
	hdr := &tar.Header{Name: SignatureEntry, Mode: 0644, Size: int64(len(record)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		tmp.Close()
		return fmt.Errorf("write signature entry: %w: %w", model.ErrIO, err)
	}
	if _, err := tw.Write(record); err != nil {
		tmp.Close()
		return fmt.Errorf("write signature entry: %w: %w", model.ErrIO, err)
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finish bundle: %w: %w", model.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync bundle: %w: %w", model.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bundle: %w: %w", model.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), archive); err != nil {
		return fmt.Errorf("place bundle: %w: %w", model.ErrIO, err)
	}

	log.Info().
		Str("archive", archive).
		Int("files", len(files)).
		Msg("Signed bundle created")
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", path, model.ErrIO, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w: %w", path, model.ErrIO, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header %s: %w: %w", path, model.ErrIO, err)
	}
	hdr.Name = filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w: %w", path, model.ErrIO, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("write %s: %w: %w", path, model.ErrIO, err)
	}
	return nil
}

// ExtractBundle unpacks archive into dir and verifies the manifest files against the
// embedded signature. On any failure every extracted file is removed, so a bundle is
// either fully in place or not at all.
func (s *Signer) ExtractBundle(archive string, manifest []string, dir string) error {
	extracted, err := unpack(archive, dir)
	if err != nil {
		removeAll(dir, extracted)
		return err
	}

	rollback := func(reason string) error {
		names := append(withoutSignature(manifest), extracted...)
		names = append(names, SignatureEntry)
		removeAll(dir, names)
		log.Warn().
			Str("archive", archive).
			Str("reason", reason).
			Msg("Bundle rejected, extracted files removed")
		return fmt.Errorf("bundle %s: %s: %w", filepath.Base(archive), reason, model.ErrInvalidSignature)
	}

	record, err := os.ReadFile(filepath.Join(dir, SignatureEntry))
	if err != nil {
		return rollback("missing signature")
	}

	var paths []string
	for _, name := range withoutSignature(manifest) {
		paths = append(paths, filepath.Join(dir, filepath.Base(name)))
	}
	content, err := Content(paths)
	if err != nil {
		return rollback("missing manifest file")
	}

	if !s.VerifyRecord(content, strings.TrimSpace(string(record))) {
		return rollback("signature mismatch")
	}

	if err := os.Remove(filepath.Join(dir, SignatureEntry)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to discard consumed signature")
	}

	log.Info().
		Str("archive", archive).
		Strs("files", withoutSignature(manifest)).
		Msg("Signed bundle verified")
	return nil
}

func unpack(archive, dir string) ([]string, error) {
	file, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w: %w", model.ErrIO, err)
	}
	defer file.Close()

	var extracted []string
	tr := tar.NewReader(file)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return extracted, nil
		}
		if err != nil {
			return extracted, fmt.Errorf("read bundle: %w: %w", model.ErrIO, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := hdr.Name
		if !filepath.IsLocal(name) || filepath.Base(name) != filepath.Clean(name) {
			return extracted, fmt.Errorf("bundle entry %q escapes destination: %w", name, model.ErrInvalidSignature)
		}

		if err := writeEntry(filepath.Join(dir, name), tr); err != nil {
			return extracted, fmt.Errorf("extract %s: %w: %w", name, model.ErrIO, err)
		}
		extracted = append(extracted, name)
	}
}

func writeEntry(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// BundleEntries lists the entry names of archive in order.
func BundleEntries(archive string) ([]string, error) {
	file, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w: %w", model.ErrIO, err)
	}
	defer file.Close()

	var names []string
	tr := tar.NewReader(file)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read bundle: %w: %w", model.ErrIO, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
}

// ReadManifest parses a manifest list: one file name per whitespace-separated token.
func ReadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w: %w", model.ErrIO, err)
	}
	return strings.Fields(string(data)), nil
}

func withoutSignature(manifest []string) []string {
	var out []string
	for _, m := range manifest {
		if filepath.Base(m) == SignatureEntry {
			continue
		}
		out = append(out, m)
	}
	return out
}

func removeAll(dir string, names []string) {
	for _, n := range names {
		err := os.Remove(filepath.Join(dir, filepath.Base(n)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", n).Msg("Failed to remove file during rollback")
		}
	}
}
