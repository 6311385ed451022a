package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"restorebench/internal/fileutil"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

const (
	hashPrefix   = "sha256:"
	maxLineBytes = 16 << 20
)

// Header is the first line of every manifest file.
type Header struct {
	SchemaVersion int    `json:"schema_version"`
	Stage         string `json:"stage"`
	RowCount      int    `json:"row_count"`
	FailureCount  int    `json:"failure_count"`
	ContentHash   string `json:"content_hash"`
	ConfigHash    string `json:"config_hash,omitempty"`
}

// Manifest is the in-memory form of one published stage manifest.
type Manifest struct {
	Stage         pipeline.StageID
	SchemaVersion int
	Rows          []Row
	ContentHash   string
	FailureCount  int
	// ConfigHash identifies the configuration the manifest was produced
	// under. Empty for stores opened without WithConfigHash.
	ConfigHash string
}

// Len returns the row count.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}

// Summary returns the header describing the manifest.
func (m *Manifest) Summary() Header {
	return Header{
		SchemaVersion: m.SchemaVersion,
		Stage:         string(m.Stage),
		RowCount:      len(m.Rows),
		FailureCount:  m.FailureCount,
		ContentHash:   m.ContentHash,
		ConfigHash:    m.ConfigHash,
	}
}

// Store publishes and reads stage manifests under a single directory.
type Store struct {
	dir        string
	configHash string
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithConfigHash stamps every written header with the hash of the
// configuration the rows were produced under.
func WithConfigHash(hash string) StoreOption {
	return func(s *Store) {
		s.configHash = hash
	}
}

// NewStore returns a store rooted at dir. The directory is created on first
// write.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the manifest directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the published path of a stage manifest.
func (s *Store) Path(stage pipeline.StageID) string {
	return filepath.Join(s.dir, string(stage)+".jsonl")
}

// Exists reports whether a stage manifest has been published.
func (s *Store) Exists(stage pipeline.StageID) bool {
	_, err := os.Stat(s.Path(stage))
	return err == nil
}

// Remove deletes a published manifest. A missing manifest is not an error.
func (s *Store) Remove(stage pipeline.StageID) error {
	if err := os.Remove(s.Path(stage)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrStorage, string(stage), "remove manifest", "Failed to remove manifest", err)
	}
	return nil
}

// Write validates rows against the stage schema, hashes their canonical
// serialization in the given order, and publishes the file atomically. The
// returned manifest carries normalized rows identical to what Read returns.
func (s *Store) Write(stage pipeline.StageID, rows []Row) (*Manifest, error) {
	m, lines, err := Build(stage, rows)
	if err != nil {
		return nil, err
	}
	m.ConfigHash = s.configHash
	header, err := json.Marshal(m.Summary())
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, string(stage), "encode header", "Failed to encode manifest header", err)
	}
	err = fileutil.WriteAtomicFunc(s.Path(stage), 0o644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if _, err := bw.Write(append(header, '\n')); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := bw.Write(line); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, string(stage), "publish manifest", "Failed to publish manifest", err)
	}
	return m, nil
}

// Build validates and hashes rows without touching disk. The returned lines
// are newline-terminated canonical encodings.
func Build(stage pipeline.StageID, rows []Row) (*Manifest, [][]byte, error) {
	schema, err := SchemaFor(stage)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrManifestIntegrity, string(stage), "build manifest", "Unknown manifest stage", err)
	}
	m := &Manifest{Stage: stage, SchemaVersion: SchemaVersion, Rows: make([]Row, 0, len(rows))}
	lines := make([][]byte, 0, len(rows))
	h := sha256.New()
	for i, row := range rows {
		normalized, err := schema.Validate(row)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrManifestIntegrity, string(stage), "validate row",
				fmt.Sprintf("Row %d does not match the %s schema", i, stage), err)
		}
		line, err := encodeRow(normalized)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrManifestIntegrity, string(stage), "encode row",
				fmt.Sprintf("Row %d could not be serialized", i), err)
		}
		h.Write(line)
		lines = append(lines, line)
		if normalized.Failed() {
			m.FailureCount++
		}
		m.Rows = append(m.Rows, normalized)
	}
	m.ContentHash = sum(h)
	return m, lines, nil
}

// ContentHash returns the content hash of rows as Write would compute it.
func ContentHash(stage pipeline.StageID, rows []Row) (string, error) {
	m, _, err := Build(stage, rows)
	if err != nil {
		return "", err
	}
	return m.ContentHash, nil
}

// Read loads and verifies a published manifest.
func (s *Store) Read(stage pipeline.StageID) (*Manifest, error) {
	header, err := s.ReadHeader(stage)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		Stage:         stage,
		SchemaVersion: header.SchemaVersion,
		ContentHash:   header.ContentHash,
		ConfigHash:    header.ConfigHash,
		Rows:          make([]Row, 0, header.RowCount),
	}
	for row, err := range s.Iterate(stage) {
		if err != nil {
			return nil, err
		}
		if row.Failed() {
			m.FailureCount++
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

// ReadHeader returns the header line of a published manifest.
func (s *Store) ReadHeader(stage pipeline.StageID) (Header, error) {
	f, err := s.open(stage)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	scanner := newScanner(f)
	return readHeader(stage, scanner)
}

// Iterate streams the rows of a published manifest. Each range over the
// returned sequence reopens the file, so the sequence is restartable. The
// content hash is checked once the last row is read; a mismatch is yielded as
// a final error.
func (s *Store) Iterate(stage pipeline.StageID) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, err := s.open(stage)
		if err != nil {
			yield(nil, err)
			return
		}
		defer f.Close()

		schema, err := SchemaFor(stage)
		if err != nil {
			yield(nil, integrity(stage, "Unknown manifest stage", err))
			return
		}
		scanner := newScanner(f)
		header, err := readHeader(stage, scanner)
		if err != nil {
			yield(nil, err)
			return
		}

		h := sha256.New()
		count, failures := 0, 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var raw Row
			if err := json.Unmarshal(line, &raw); err != nil {
				yield(nil, integrity(stage, fmt.Sprintf("Row %d is not valid JSON", count), err))
				return
			}
			row, err := schema.Validate(raw)
			if err != nil {
				yield(nil, integrity(stage, fmt.Sprintf("Row %d does not match the %s schema", count, stage), err))
				return
			}
			h.Write(line)
			h.Write([]byte{'\n'})
			count++
			if row.Failed() {
				failures++
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, integrity(stage, "Manifest could not be read", err))
			return
		}
		switch {
		case count != header.RowCount:
			yield(nil, integrity(stage, fmt.Sprintf("Header declares %d rows, file holds %d", header.RowCount, count), nil))
		case failures != header.FailureCount:
			yield(nil, integrity(stage, fmt.Sprintf("Header declares %d failures, file holds %d", header.FailureCount, failures), nil))
		case sum(h) != header.ContentHash:
			yield(nil, integrity(stage, "Content hash does not match header", nil))
		}
	}
}

// Verify recomputes the content hash of a published manifest and returns it.
func (s *Store) Verify(stage pipeline.StageID) (string, error) {
	m, err := s.Read(stage)
	if err != nil {
		return "", err
	}
	return m.ContentHash, nil
}

func (s *Store) open(stage pipeline.StageID) (*os.File, error) {
	f, err := os.Open(s.Path(stage))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, integrity(stage, "Manifest is absent", err)
		}
		return nil, services.Wrap(services.ErrStorage, string(stage), "open manifest", "Failed to open manifest", err)
	}
	return f, nil
}

func readHeader(stage pipeline.StageID, scanner *bufio.Scanner) (Header, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, integrity(stage, "Manifest header could not be read", err)
		}
		return Header{}, integrity(stage, "Manifest is empty", nil)
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return Header{}, integrity(stage, "Manifest header is not valid JSON", err)
	}
	if header.SchemaVersion != SchemaVersion {
		return Header{}, integrity(stage, fmt.Sprintf("Unsupported schema version %d", header.SchemaVersion), nil)
	}
	if header.Stage != string(stage) {
		return Header{}, integrity(stage, fmt.Sprintf("Manifest belongs to stage %q", header.Stage), nil)
	}
	return header, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

// encodeRow serializes a row with sorted keys and a trailing newline.
func encodeRow(row Row) ([]byte, error) {
	data, err := json.Marshal(map[string]any(row))
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func sum(h hash.Hash) string {
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

func integrity(stage pipeline.StageID, message string, err error) error {
	return services.Wrap(services.ErrManifestIntegrity, string(stage), "read manifest", message, err)
}
