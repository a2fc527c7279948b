package publish

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"celigo/internal/fileutil"
	"celigo/internal/logging"
	"celigo/internal/services"
)

// Artifact is a file to upload, labelled by what produced it ("raw",
// "ilastik", "cellprofiler").
type Artifact struct {
	Label string
	Path  string
}

// Request is a completed work unit handed over for publication.
type Request struct {
	WorkUnitID    string
	CorrelationID string
	Profile       string
	InputPath     string
	Artifacts     []Artifact
	// ImageTable and ObjectTable are CellProfiler measurement files; empty
	// or missing files are skipped.
	ImageTable  string
	ObjectTable string
	CompletedAt time.Time
}

// Publisher makes a completed work unit's results durable.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Record, error)
}

// Service uploads artifacts and upserts the result record. Either backend
// may be nil, in which case that step is skipped.
type Service struct {
	store  ArtifactStore
	db     ResultDB
	logger *slog.Logger
}

// NewService composes a publisher over the given backends.
func NewService(store ArtifactStore, db ResultDB, logger *slog.Logger) *Service {
	return &Service{store: store, db: db, logger: logging.NewComponentLogger(logger, "publisher")}
}

// Publish uploads every artifact, parses file name metadata, reads the
// measurement tables, and upserts the record. Upload or database failures
// are services.ErrPublish; unparseable file names and unreadable tables are
// logged and published without that data.
func (s *Service) Publish(ctx context.Context, req Request) (Record, error) {
	logger := logging.WithContext(ctx, s.logger)
	rec := Record{
		WorkUnitID:    req.WorkUnitID,
		CorrelationID: req.CorrelationID,
		Profile:       req.Profile,
		FileIDs:       make(map[string]string, len(req.Artifacts)),
		ProcessedAt:   req.CompletedAt,
	}

	if s.store != nil {
		for _, art := range req.Artifacts {
			id, err := s.store.Upload(ctx, req.WorkUnitID, art.Path)
			if err != nil {
				return rec, services.Wrap(services.ErrPublish, "publish", "upload "+art.Label, art.Path, err)
			}
			rec.FileIDs[art.Label] = id
			logger.Info("artifact uploaded",
				logging.String("label", art.Label),
				logging.String("file_id", id),
				logging.String(logging.FieldEventType, "artifact_uploaded"),
			)
		}
	}

	meta, err := ParseFilename(req.InputPath)
	if err != nil {
		logging.WarnWithContext(logger, "file name metadata unavailable", "metadata_parse_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "result record lacks plate, scan, and well fields"),
			logging.String(logging.FieldErrorHint, "use the Celigo export naming: <barcode>_Scan_<date>-at-<time>_Well_<well>"),
		)
	}
	rec.Metadata = meta

	if table := strings.TrimSpace(req.ImageTable); table != "" {
		if ok, _ := fileutil.Exists(table); ok {
			objects := req.ObjectTable
			if present, _ := fileutil.Exists(objects); !present {
				objects = ""
			}
			rows, err := ReadMeasurements(table, objects, meta, req.CorrelationID)
			if err != nil {
				logging.WarnWithContext(logger, "measurement tables unreadable", "measurements_unreadable",
					logging.Error(err),
					logging.String(logging.FieldImpact, "result record lacks measurements"),
				)
			} else {
				rec.Measurements = rows
			}
		}
	}

	if s.db != nil {
		if err := s.db.UpsertResult(ctx, rec); err != nil {
			return rec, services.Wrap(services.ErrPublish, "publish", "upsert result", req.WorkUnitID, err)
		}
		logger.Info("result recorded",
			logging.Int("measurement_rows", len(rec.Measurements)),
			logging.String(logging.FieldEventType, "result_recorded"),
		)
	}
	return rec, nil
}

// ArtifactPaths filters artifacts down to files that exist.
func ArtifactPaths(arts []Artifact) []Artifact {
	out := make([]Artifact, 0, len(arts))
	for _, a := range arts {
		if info, err := os.Stat(a.Path); err == nil && !info.IsDir() {
			out = append(out, a)
		}
	}
	return out
}
