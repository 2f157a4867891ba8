// Package export writes job results to a CSV artifact and optionally uploads
// it to a blob store. Results land under a directory named after the current
// branch so concurrent CI runs do not clobber each other; only non-main
// branches are uploaded.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

// FileName is the CSV artifact name within the branch directory.
const FileName = "url_embeddings.csv"

// Row is one exported URL with the vectors of all its chunks.
type Row struct {
	URL     string
	Vectors [][]float32
}

// Config controls where the exporter writes.
type Config struct {
	// OutputDir is the local directory that holds per-branch result folders.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// Branch names the result folder, typically from GITHUB_HEAD_REF. Empty
	// means main.
	Branch string `mapstructure:"branch" yaml:"branch"`
}

// Exporter renders rows to CSV and pushes non-main artifacts to blob storage.
type Exporter struct {
	cfg    Config
	blob   pipeline.BlobStore
	logger *zap.Logger
}

// New creates an Exporter. blob may be nil when no upload target is
// configured.
func New(cfg Config, blob pipeline.BlobStore, logger *zap.Logger) (*Exporter, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		cfg:    cfg,
		blob:   blob,
		logger: logger,
	}, nil
}

// Export writes the CSV locally and, on non-main branches, uploads it. It
// returns the local path and the blob URI (empty when no upload happened).
func (e *Exporter) Export(ctx context.Context, rows []Row) (string, string, error) {
	data, err := renderCSV(rows)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(e.cfg.OutputDir, e.cfg.Branch)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create export directory: %w", err)
	}
	localPath := filepath.Join(dir, FileName)
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return "", "", fmt.Errorf("write export file: %w", err)
	}
	e.logger.Info("wrote embeddings csv",
		zap.String("path", localPath),
		zap.Int("rows", len(rows)),
	)

	if e.cfg.Branch == "main" || e.blob == nil {
		return localPath, "", nil
	}

	objectPath := e.cfg.Branch + "/" + FileName
	uri, err := e.blob.PutObject(ctx, objectPath, "text/csv", bytes.NewReader(data))
	if err != nil {
		return localPath, "", fmt.Errorf("upload export: %w", err)
	}
	e.logger.Info("uploaded embeddings csv",
		zap.String("branch", e.cfg.Branch),
		zap.String("uri", uri),
	)
	return localPath, uri, nil
}

func renderCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"url", "embeddings"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		vectors := row.Vectors
		if vectors == nil {
			vectors = [][]float32{}
		}
		encoded, err := json.Marshal(vectors)
		if err != nil {
			return nil, fmt.Errorf("encode vectors for %s: %w", row.URL, err)
		}
		if err := w.Write([]string{row.URL, string(encoded)}); err != nil {
			return nil, fmt.Errorf("write csv row for %s: %w", row.URL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
