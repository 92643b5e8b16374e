package services

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

const (
	manifestEntry = "manifest.json"
	projectEntry  = "project.json"
	issuesPrefix  = "issues/"
	blobsPrefix   = "blobs/"
	stagingSuffix = ".partial"
	ledgerFile    = "progress.db"
)

// bundleNamePattern extracts project name and sequence from a bundle entry.
// The selector guarantees project names never end in '-<digits>.zip'
// themselves, so the parse is unambiguous.
var bundleNamePattern = regexp.MustCompile(`^(.+)-(\d+)\.zip$`)

// ArchiveBuilder writes an archive incrementally. Issues and blobs are
// staged on disk as they complete (never buffered whole), the manifest is
// flushed at the very start, and Finalize assembles the single container.
// Re-opening a builder on the same output path resumes from the staged
// state; a different output path starts clean.
type ArchiveBuilder struct {
	outputPath string
	stageDir   string
	manifest   models.Manifest
	ledger     *Ledger
}

func NewArchiveBuilder(outputPath string, manifest models.Manifest) (*ArchiveBuilder, error) {
	stageDir := outputPath + stagingSuffix
	manifestPath := filepath.Join(stageDir, manifestEntry)

	if _, err := os.Stat(manifestPath); err == nil {
		// Resuming an interrupted run: keep the original manifest so the
		// archive stays deterministic.
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, common.NewStorageError("stage_read", "failed to read staged manifest").WithCause(err)
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, common.NewArchiveCorruptError("staged manifest is not parseable").WithCause(err)
		}
	} else {
		if err := os.MkdirAll(stageDir, 0755); err != nil {
			return nil, common.NewStorageError("stage_create", "failed to create staging directory").WithCause(err)
		}
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal manifest: %w", err)
		}
		if err := os.WriteFile(manifestPath, data, 0644); err != nil {
			return nil, common.NewStorageError("stage_write", "failed to write manifest").WithCause(err)
		}
	}

	ledger, err := OpenLedger(filepath.Join(stageDir, ledgerFile))
	if err != nil {
		return nil, err
	}

	return &ArchiveBuilder{
		outputPath: outputPath,
		stageDir:   stageDir,
		manifest:   manifest,
		ledger:     ledger,
	}, nil
}

func (b *ArchiveBuilder) Manifest() models.Manifest { return b.manifest }
func (b *ArchiveBuilder) Ledger() *Ledger           { return b.ledger }

func (b *ArchiveBuilder) projectDir(project string) string {
	return filepath.Join(b.stageDir, project)
}

// AddProject stages the project definition and assigns its bundle sequence.
func (b *ArchiveBuilder) AddProject(p models.Project) error {
	if _, err := b.ledger.ProjectSeq(p.Name); err != nil {
		return err
	}

	dir := b.projectDir(p.Name)
	for _, sub := range []string{issuesPrefix, blobsPrefix} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return common.NewStorageError("stage_create", "failed to create project staging directory").WithCause(err)
		}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.Name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, projectEntry), data, 0644); err != nil {
		return common.NewStorageError("stage_write", "failed to write project definition").WithCause(err)
	}
	return nil
}

// AddIssue flushes one complete issue record plus its attachment bytes into
// the staging area and marks it done in the ledger. Blobs already staged
// under the same content hash are discarded: the bytes are stored once per
// unique hash no matter how many records reference them.
func (b *ArchiveBuilder) AddIssue(rec *models.IssueRecord, blobs map[string][]byte) error {
	dir := b.projectDir(rec.Project)

	for hash, data := range blobs {
		blobPath := filepath.Join(dir, blobsPrefix, hash)
		if _, err := os.Stat(blobPath); err == nil {
			continue // content-addressed dedup
		}
		if err := os.WriteFile(blobPath, data, 0644); err != nil {
			return common.NewStorageError("stage_write", "failed to write attachment blob").WithCause(err)
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal issue %s: %w", rec.SourceID, err)
	}
	issuePath := filepath.Join(dir, issuesPrefix, rec.SourceID+".json")
	if err := os.WriteFile(issuePath, data, 0644); err != nil {
		return common.NewStorageError("stage_write", "failed to write issue record").WithCause(err)
	}

	return b.ledger.MarkDone(rec.SourceID)
}

// Finalize assembles the single container zip from the staged bundles and
// removes the staging directory. The manifest is the first entry; each
// project becomes one self-contained, independently parseable bundle named
// <project>-<seq>.zip.
func (b *ArchiveBuilder) Finalize() error {
	projects, err := b.ledger.Projects()
	if err != nil {
		return err
	}

	out, err := os.Create(b.outputPath)
	if err != nil {
		return common.NewStorageError("archive_create", "failed to create archive file").WithCause(err)
	}
	defer out.Close()

	container := zip.NewWriter(out)

	mw, err := container.Create(manifestEntry)
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}
	manifestData, err := os.ReadFile(filepath.Join(b.stageDir, manifestEntry))
	if err != nil {
		return common.NewStorageError("stage_read", "failed to read staged manifest").WithCause(err)
	}
	if _, err := mw.Write(manifestData); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}

	for seq, project := range projects {
		name := fmt.Sprintf("%s-%d.zip", project, seq+1)
		// The bundle payload is already deflate-compressed, store it as-is.
		w, err := container.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("failed to create bundle entry %s: %w", name, err)
		}
		if err := b.writeBundle(w, project); err != nil {
			return fmt.Errorf("failed to write bundle %s: %w", name, err)
		}
	}

	if err := container.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return common.NewStorageError("archive_sync", "failed to sync archive file").WithCause(err)
	}

	if err := b.ledger.Close(); err != nil {
		return err
	}
	return os.RemoveAll(b.stageDir)
}

// writeBundle streams one staged project into a nested deflated zip.
func (b *ArchiveBuilder) writeBundle(w io.Writer, project string) error {
	dir := b.projectDir(project)
	bundle := zip.NewWriter(w)

	copyEntry := func(name, path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		entry, err := bundle.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		return err
	}

	if err := copyEntry(projectEntry, filepath.Join(dir, projectEntry)); err != nil {
		return err
	}

	for _, sub := range []string{issuesPrefix, blobsPrefix} {
		names, err := sortedDir(filepath.Join(dir, sub))
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := copyEntry(sub+name, filepath.Join(dir, sub, name)); err != nil {
				return err
			}
		}
	}

	return bundle.Close()
}

func sortedDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Abort releases the builder without assembling the container. The staging
// directory stays behind so the next run with the same output path resumes.
func (b *ArchiveBuilder) Abort() error {
	return b.ledger.Close()
}

// BundleRef identifies one bundle inside an archive without loading it.
type BundleRef struct {
	Name    string
	Project string
	Seq     int
}

// ArchiveReader reads the container written by ArchiveBuilder. Bundles are
// loaded lazily, one at a time, and every blob is verified against its
// declared content hash on load.
type ArchiveReader struct {
	rc       *zip.ReadCloser
	manifest models.Manifest
	bundles  []BundleRef
	files    map[string]*zip.File
}

func OpenArchive(path string) (*ArchiveReader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, common.NewArchiveCorruptError(fmt.Sprintf("cannot open archive %s", path)).WithCause(err)
	}

	r := &ArchiveReader{rc: rc, files: make(map[string]*zip.File)}
	for _, f := range rc.File {
		r.files[f.Name] = f
	}

	mf, ok := r.files[manifestEntry]
	if !ok {
		rc.Close()
		return nil, common.NewArchiveCorruptError("archive has no manifest")
	}
	if err := readJSONEntry(mf, &r.manifest); err != nil {
		rc.Close()
		return nil, common.NewArchiveCorruptError("archive manifest is not parseable").WithCause(err)
	}
	if r.manifest.SchemaVersion != models.SchemaVersion {
		rc.Close()
		return nil, common.NewArchiveCorruptError(
			fmt.Sprintf("unsupported archive schema version %d", r.manifest.SchemaVersion))
	}

	for _, f := range rc.File {
		m := bundleNamePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		seq, _ := strconv.Atoi(m[2])
		r.bundles = append(r.bundles, BundleRef{Name: f.Name, Project: m[1], Seq: seq})
	}
	sort.Slice(r.bundles, func(i, j int) bool { return r.bundles[i].Seq < r.bundles[j].Seq })

	return r, nil
}

func (r *ArchiveReader) Close() error              { return r.rc.Close() }
func (r *ArchiveReader) Manifest() models.Manifest { return r.manifest }
func (r *ArchiveReader) Bundles() []BundleRef      { return r.bundles }

// LoadBundle parses one bundle. Integrity is checked always: a blob whose
// bytes do not match its content-hash name, or a referenced blob that is
// missing, fails with an archive corruption error.
func (r *ArchiveReader) LoadBundle(ref BundleRef) (*models.ProjectBundle, error) {
	f, ok := r.files[ref.Name]
	if !ok {
		return nil, common.NewArchiveCorruptError(fmt.Sprintf("bundle %s not found", ref.Name))
	}

	raw, err := readEntry(f)
	if err != nil {
		return nil, common.NewArchiveCorruptError(fmt.Sprintf("bundle %s is not readable", ref.Name)).WithCause(err)
	}
	inner, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, common.NewArchiveCorruptError(fmt.Sprintf("bundle %s is not a zip", ref.Name)).WithCause(err)
	}

	bundle := &models.ProjectBundle{
		Seq:   ref.Seq,
		Blobs: make(map[string][]byte),
	}

	var issueFiles []*zip.File
	for _, bf := range inner.File {
		switch {
		case bf.Name == projectEntry:
			if err := readJSONEntry(bf, &bundle.Project); err != nil {
				return nil, common.NewArchiveCorruptError(
					fmt.Sprintf("bundle %s has an unreadable project definition", ref.Name)).WithCause(err)
			}
		case strings.HasPrefix(bf.Name, issuesPrefix):
			issueFiles = append(issueFiles, bf)
		case strings.HasPrefix(bf.Name, blobsPrefix):
			data, err := readEntry(bf)
			if err != nil {
				return nil, common.NewArchiveCorruptError(
					fmt.Sprintf("blob %s in bundle %s is not readable", bf.Name, ref.Name)).WithCause(err)
			}
			hash := strings.TrimPrefix(bf.Name, blobsPrefix)
			if models.HashBytes(data) != hash {
				return nil, common.NewArchiveCorruptError(
					fmt.Sprintf("blob %s in bundle %s does not match its content hash", bf.Name, ref.Name))
			}
			bundle.Blobs[hash] = data
		}
	}

	sort.SliceStable(issueFiles, func(i, j int) bool {
		return issueIDLess(issueBaseName(issueFiles[i].Name), issueBaseName(issueFiles[j].Name))
	})
	for _, bf := range issueFiles {
		var rec models.IssueRecord
		if err := readJSONEntry(bf, &rec); err != nil {
			return nil, common.NewArchiveCorruptError(
				fmt.Sprintf("issue %s in bundle %s is not parseable", bf.Name, ref.Name)).WithCause(err)
		}
		for _, attRef := range rec.AttachmentRefs() {
			if _, ok := bundle.Blobs[attRef.ContentHash]; !ok {
				return nil, common.NewArchiveCorruptError(
					fmt.Sprintf("issue %s references missing blob %s", rec.SourceID, attRef.ContentHash))
			}
		}
		bundle.Issues = append(bundle.Issues, &rec)
	}

	if bundle.Project.Name == "" {
		bundle.Project.Name = ref.Project
	}
	return bundle, nil
}

func issueBaseName(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, issuesPrefix), ".json")
}

// issueIDLess orders ids like PRJ-2 < PRJ-10 by comparing the numeric
// suffix when both share a prefix.
func issueIDLess(a, b string) bool {
	ai := strings.LastIndex(a, "-")
	bi := strings.LastIndex(b, "-")
	if ai > 0 && bi > 0 && a[:ai] == b[:bi] {
		an, aerr := strconv.Atoi(a[ai+1:])
		bn, berr := strconv.Atoi(b[bi+1:])
		if aerr == nil && berr == nil {
			return an < bn
		}
	}
	return a < b
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func readJSONEntry(f *zip.File, v interface{}) error {
	data, err := readEntry(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
