package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource"
	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/config"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/repositories"
)

// BuildRequest starts a build. Records nil means the feed is read from the auto_dw
// tables: the latest confident classifier responses are snapshotted under BuildID.
type BuildRequest struct {
	BuildID  string                        `json:"build_id,omitempty"`
	DWSchema string                        `json:"dw_schema,omitempty"`
	Records  []models.ColumnClassification `json:"records,omitempty"`
}

// BuildResult describes a built (or planned) schema version.
type BuildResult struct {
	BuildID string           `json:"build_id"`
	Schema  *models.DVSchema `json:"schema"`
	DDL     string           `json:"ddl"`
}

// LoadResult describes one execution of the load SQL for a build.
type LoadResult struct {
	BuildID      string   `json:"build_id"`
	Statements   int      `json:"statements"`
	RowsAffected int64    `json:"rows_affected"`
	Unresolved   int      `json:"unresolved_columns"`
	Skipped      []string `json:"skipped,omitempty"`
}

// SQLPreview is the DDL and DML of a build, not executed.
type SQLPreview struct {
	BuildID string         `json:"build_id"`
	DDL     string         `json:"ddl"`
	DML     string         `json:"dml"`
	Steps   []DMLStatement `json:"steps"`
	Skipped []string       `json:"skipped,omitempty"`
}

// BuildService runs the synthesis pipeline: aggregate, assemble and persist, create
// tables, resolve target columns, load.
//
// A build runs its statements in order on one connection and is not safe to run
// concurrently with another build against the same target schema.
type BuildService interface {
	// Build assembles and persists a schema version and creates its tables.
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
	// Load resolves the persisted schema of buildID against the catalog and runs its load SQL.
	Load(ctx context.Context, buildID string) (*LoadResult, error)
	// Run is Build followed by Load.
	Run(ctx context.Context, req BuildRequest) (*BuildResult, *LoadResult, error)
	// Plan assembles a schema and renders its SQL without touching the database.
	Plan(ctx context.Context, req BuildRequest) (*BuildResult, *SQLPreview, error)
	// PreviewSQL renders the SQL of a persisted build without executing it.
	PreviewSQL(ctx context.Context, buildID string) (*SQLPreview, error)
	// GetSchema returns the persisted schema of buildID.
	GetSchema(ctx context.Context, buildID string) (*models.DVSchema, error)
	// ListBuilds returns the latest schema version of every build.
	ListBuilds(ctx context.Context) ([]*models.DVBuild, error)
}

type buildService struct {
	assembler      SchemaAssembler
	resolver       TargetColumnResolver
	executor       datasource.SQLExecutor
	classification repositories.ClassificationRepository
	dvRepo         repositories.DVRepoRepository
	cfg            config.WarehouseConfig
	logger         *zap.Logger
}

// NewBuildService creates a BuildService.
func NewBuildService(
	assembler SchemaAssembler,
	resolver TargetColumnResolver,
	executor datasource.SQLExecutor,
	classification repositories.ClassificationRepository,
	dvRepo repositories.DVRepoRepository,
	cfg config.WarehouseConfig,
	logger *zap.Logger,
) BuildService {
	return &buildService{
		assembler:      assembler,
		resolver:       resolver,
		executor:       executor,
		classification: classification,
		dvRepo:         dvRepo,
		cfg:            cfg,
		logger:         logger.Named("build-service"),
	}
}

var _ BuildService = (*buildService)(nil)

func (s *buildService) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	start := time.Now()

	result, err := s.assemble(ctx, &req)
	if err != nil {
		return nil, err
	}

	// Persist before DDL so a failed CREATE TABLE can be retried with Load's schema.
	if err := s.assembler.Persist(ctx, result.BuildID, result.Schema); err != nil {
		return nil, fmt.Errorf("persist build %s: %w", result.BuildID, err)
	}

	batch := CreateSchemaStatement(result.Schema.DWSchema) + "\n" + result.DDL
	if _, err := s.executor.Execute(ctx, batch); err != nil {
		return nil, fmt.Errorf("create tables for build %s: %w", result.BuildID, err)
	}

	s.logger.Info("Build complete",
		zap.String("build_id", result.BuildID),
		zap.String("dw_schema", result.Schema.DWSchema),
		zap.Int("business_keys", len(result.Schema.BusinessKeys)),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// assemble resolves the feed of req and returns the assembled schema with its DDL.
// req.BuildID and req.DWSchema are defaulted in place.
func (s *buildService) assemble(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	if req.BuildID == "" {
		req.BuildID = uuid.NewString()
	}
	if req.DWSchema == "" {
		req.DWSchema = s.cfg.DWSchema
	}

	records := req.Records
	if records == nil {
		var err error
		records, err = s.snapshotFeed(ctx, req.BuildID)
		if err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("build %s: no classified columns to build from", req.BuildID)
	}
	if err := checkRoles(records); err != nil {
		return nil, fmt.Errorf("build %s: %w", req.BuildID, err)
	}

	schema, err := s.assembler.Assemble(AggregateBusinessKeys(records), req.DWSchema)
	if err != nil {
		return nil, fmt.Errorf("assemble build %s: %w", req.BuildID, err)
	}
	if len(schema.BusinessKeys) == 0 {
		return nil, fmt.Errorf("build %s: no table has a business key part", req.BuildID)
	}

	ddl, err := GenerateDDL(schema)
	if err != nil {
		return nil, fmt.Errorf("generate DDL for build %s: %w", req.BuildID, err)
	}

	return &BuildResult{BuildID: req.BuildID, Schema: schema, DDL: ddl}, nil
}

// checkRoles rejects records whose role is missing or not one of the known roles.
// Inline records are decoded without going through ParseColumnRole, and an absent or
// null column_category leaves Role empty.
func checkRoles(records []models.ColumnClassification) error {
	for i := range records {
		rec := &records[i]
		if rec.Role == "" {
			return fmt.Errorf("record %d (%s.%s): missing column_category: %w",
				i, rec.TableName, rec.ColumnName, apperrors.ErrUnknownColumnRole)
		}
		if _, err := models.ParseColumnRole(string(rec.Role)); err != nil {
			return fmt.Errorf("record %d (%s.%s): %w", i, rec.TableName, rec.ColumnName, err)
		}
	}
	return nil
}

func (s *buildService) snapshotFeed(ctx context.Context, buildID string) ([]models.ColumnClassification, error) {
	n, err := s.classification.CreateBuildCall(ctx, buildID, s.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Snapshotted classifications",
		zap.String("build_id", buildID),
		zap.Int64("columns", n),
		zap.Float64("min_confidence", s.cfg.ConfidenceThreshold))

	return s.classification.ListByBuild(ctx, buildID)
}

func (s *buildService) Load(ctx context.Context, buildID string) (*LoadResult, error) {
	start := time.Now()

	schema, err := s.assembler.Load(ctx, buildID)
	if err != nil {
		return nil, err
	}

	unresolved, err := s.resolver.Resolve(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("resolve targets for build %s: %w", buildID, err)
	}

	dml := GenerateDML(schema)
	result := &LoadResult{
		BuildID:    buildID,
		Unresolved: unresolved,
		Skipped:    skippedTables(dml),
	}

	for _, synthErr := range dml.Errors {
		s.logger.Error("Skipping load",
			zap.String("build_id", buildID),
			zap.String("component", synthErr.Component),
			zap.String("table", synthErr.Table),
			zap.Error(synthErr.Err))
	}

	if len(dml.Statements) > 0 {
		exec, err := s.executor.Execute(ctx, dml.SQL())
		if err != nil {
			return nil, fmt.Errorf("load build %s: %w", buildID, err)
		}
		result.Statements = exec.Statements
		result.RowsAffected = exec.RowsAffected
	}

	s.logger.Info("Load complete",
		zap.String("build_id", buildID),
		zap.Int64("rows_affected", result.RowsAffected),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("elapsed", time.Since(start)))

	if err := dml.Err(); err != nil {
		return result, fmt.Errorf("%w: %w", apperrors.ErrIncompleteLoad, err)
	}
	return result, nil
}

func (s *buildService) Run(ctx context.Context, req BuildRequest) (*BuildResult, *LoadResult, error) {
	built, err := s.Build(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	loaded, err := s.Load(ctx, built.BuildID)
	return built, loaded, err
}

func (s *buildService) Plan(ctx context.Context, req BuildRequest) (*BuildResult, *SQLPreview, error) {
	result, err := s.assemble(ctx, &req)
	if err != nil {
		return nil, nil, err
	}

	// Work on a copy so the returned schema keeps its targets unresolved, as persisted.
	planned := cloneSchema(result.Schema)
	AssumeTargets(planned)

	return result, preview(result.BuildID, planned, result.DDL), nil
}

func (s *buildService) PreviewSQL(ctx context.Context, buildID string) (*SQLPreview, error) {
	schema, err := s.assembler.Load(ctx, buildID)
	if err != nil {
		return nil, err
	}

	ddl, err := GenerateDDL(schema)
	if err != nil {
		return nil, fmt.Errorf("generate DDL for build %s: %w", buildID, err)
	}

	if _, err := s.resolver.Resolve(ctx, schema); err != nil {
		return nil, fmt.Errorf("resolve targets for build %s: %w", buildID, err)
	}

	return preview(buildID, schema, ddl), nil
}

func preview(buildID string, schema *models.DVSchema, ddl string) *SQLPreview {
	dml := GenerateDML(schema)
	return &SQLPreview{
		BuildID: buildID,
		DDL:     CreateSchemaStatement(schema.DWSchema) + "\n" + ddl,
		DML:     dml.SQL(),
		Steps:   dml.Statements,
		Skipped: skippedTables(dml),
	}
}

func (s *buildService) GetSchema(ctx context.Context, buildID string) (*models.DVSchema, error) {
	return s.assembler.Load(ctx, buildID)
}

func (s *buildService) ListBuilds(ctx context.Context) ([]*models.DVBuild, error) {
	builds, err := s.dvRepo.ListBuilds(ctx)
	if err != nil {
		s.logger.Error("Failed to list builds", zap.Error(err))
		return nil, err
	}
	return builds, nil
}

func skippedTables(dml *DMLResult) []string {
	var out []string
	for _, e := range dml.Errors {
		out = append(out, e.Component+" "+e.Table+": "+errorReason(e.Err))
	}
	return out
}

// errorReason drops the sentinel prefix so reports read "part \"x\" has no target column".
func errorReason(err error) string {
	msg := err.Error()
	if errors.Is(err, apperrors.ErrMissingColumn) {
		msg = strings.TrimPrefix(msg, apperrors.ErrMissingColumn.Error()+": ")
	}
	return msg
}

// cloneSchema deep-copies the parts of a schema that target resolution mutates.
func cloneSchema(src *models.DVSchema) *models.DVSchema {
	dst := *src
	dst.BusinessKeys = make([]models.BusinessKey, len(src.BusinessKeys))
	for i, bk := range src.BusinessKeys {
		bk.BusinessKeyParts = append([]models.BusinessKeyPartLink(nil), bk.BusinessKeyParts...)
		bk.Descriptors = append([]models.Descriptor(nil), bk.Descriptors...)
		dst.BusinessKeys[i] = bk
	}
	return &dst
}
