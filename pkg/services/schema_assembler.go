package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/audit"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/repositories"
	sqlutil "github.com/ekaya-inc/auto-dw/pkg/sql"
)

// SchemaAssembler wraps aggregated business keys into a DVSchema and persists it by build id.
type SchemaAssembler interface {
	// Assemble validates and names business keys and returns a new schema version.
	Assemble(keys []models.BusinessKey, dwSchema string) (*models.DVSchema, error)
	// Persist refreshes the modification time and appends the schema under buildID.
	Persist(ctx context.Context, buildID string, schema *models.DVSchema) error
	// Load returns the latest schema persisted under buildID.
	Load(ctx context.Context, buildID string) (*models.DVSchema, error)
}

type schemaAssembler struct {
	repo    repositories.DVRepoRepository
	auditor *audit.SecurityAuditor
	now     func() time.Time
	logger  *zap.Logger
}

// NewSchemaAssembler creates a SchemaAssembler backed by repo. Rejected business key
// names are reported to auditor.
func NewSchemaAssembler(repo repositories.DVRepoRepository, auditor *audit.SecurityAuditor, logger *zap.Logger) SchemaAssembler {
	return &schemaAssembler{
		repo:    repo,
		auditor: auditor,
		now:     time.Now,
		logger:  logger.Named("schema-assembler"),
	}
}

var _ SchemaAssembler = (*schemaAssembler)(nil)

func (a *schemaAssembler) Assemble(keys []models.BusinessKey, dwSchema string) (*models.DVSchema, error) {
	if strings.TrimSpace(dwSchema) == "" {
		return nil, fmt.Errorf("%w: empty target schema name", apperrors.ErrInvalidIdentifier)
	}

	now := a.timestamp()
	schema := &models.DVSchema{
		ID:           uuid.New(),
		DWSchema:     dwSchema,
		CreatedAt:    now,
		ModifiedAt:   now,
		BusinessKeys: make([]models.BusinessKey, 0, len(keys)),
	}

	used := make(map[string]bool, len(keys))
	for _, bk := range keys {
		source := bk.SourceTable()
		if source == nil {
			a.logger.Warn("Skipping business key without business key parts",
				zap.String("business_key", bk.Name),
				zap.Int("descriptors", len(bk.Descriptors)))
			continue
		}

		name, err := a.resolveName(bk.Name, source, dwSchema)
		if err != nil {
			return nil, err
		}
		name = a.disambiguate(name, source, used)
		used[name] = true

		bk.Name = name
		bk.Descriptors = append(make([]models.Descriptor, 0, len(bk.Descriptors)), bk.Descriptors...)
		schema.BusinessKeys = append(schema.BusinessKeys, bk)
	}

	a.separateSatellites(schema.BusinessKeys)

	if err := a.checkGeneratedNames(schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// separateSatellites renames orbits whose satellite table would coincide with another
// satellite's, such as sensitive "customer" and plain "customer_sensitive". The later
// satellite gets a numeric suffix on its orbit.
func (a *schemaAssembler) separateSatellites(keys []models.BusinessKey) {
	orbits := make(map[models.SatelliteKey]string)
	tables := make(map[string]models.SatelliteKey)

	for i := range keys {
		for j := range keys[i].Descriptors {
			d := &keys[i].Descriptors[j]
			key := d.SatelliteKey()

			orbit, ok := orbits[key]
			if !ok {
				orbit = key.Orbit
				for n := 2; ; n++ {
					table := models.SatelliteKey{Orbit: orbit, IsSensitive: key.IsSensitive}.TableName()
					if _, taken := tables[table]; !taken {
						tables[table] = key
						break
					}
					orbit = key.Orbit + "_" + strconv.Itoa(n)
				}
				orbits[key] = orbit

				if orbit != key.Orbit {
					a.logger.Warn("Satellite table name already taken, renamed",
						zap.String("satellite", key.TableName()),
						zap.String("renamed_to", models.SatelliteKey{Orbit: orbit, IsSensitive: key.IsSensitive}.TableName()),
						zap.String("business_key", keys[i].Name))
				}
			}
			d.Orbit = orbit
		}
	}
}

// checkGeneratedNames rejects hub, satellite and column names the server would truncate;
// a truncated name never matches the catalog lookup that resolves load targets.
func (a *schemaAssembler) checkGeneratedNames(schema *models.DVSchema) error {
	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]

		names := []string{bk.HubTableName(), bk.HashKeyColumn()}
		for j := range bk.BusinessKeyParts {
			names = append(names, bk.BusinessKeyParts[j].TargetColumnName())
		}
		for _, key := range bk.SatelliteKeys() {
			names = append(names, key.TableName(), key.HashDiffColumn())
		}
		for j := range bk.Descriptors {
			names = append(names, bk.Descriptors[j].Link.Alias)
		}

		for _, name := range names {
			if err := sqlutil.CheckIdentifierLength(name); err != nil {
				a.auditor.LogIdentifierRejected(schema.DWSchema, sourceName(bk.SourceTable()), audit.IdentifierDetails{
					Proposed: name,
					Reason:   err.Error(),
				})
				return fmt.Errorf("business key %q: %w", bk.Name, err)
			}
		}
	}
	return nil
}

// resolveName vets the proposed name, falling back to the singular source table name.
func (a *schemaAssembler) resolveName(proposed string, source *models.ColumnData, dwSchema string) (string, error) {
	if strings.TrimSpace(proposed) == "" {
		fallback := inflection.Singular(strings.ToLower(source.TableName))
		a.logger.Warn("No business key name proposed, using table name",
			zap.String("schema", source.SchemaName),
			zap.String("table", source.TableName),
			zap.String("business_key", fallback))
		proposed = fallback
	}

	injection := sqlutil.CheckIdentifierForInjection(proposed)
	if injection != nil {
		a.auditor.LogInjectionAttempt(dwSchema, sourceName(source), audit.IdentifierDetails{
			Proposed:    proposed,
			Fingerprint: injection.Fingerprint,
		})
	}

	name, err := sqlutil.ValidateIdentifierName(proposed)
	if err != nil {
		if injection == nil {
			a.auditor.LogIdentifierRejected(dwSchema, sourceName(source), audit.IdentifierDetails{
				Proposed: proposed,
				Reason:   err.Error(),
			})
		}
		return "", fmt.Errorf("business key for %s: %w", sourceName(source), err)
	}
	return name, nil
}

func sourceName(source *models.ColumnData) string {
	return source.SchemaName + "." + source.TableName
}

// disambiguate makes name unique: first by appending the source table, then a counter.
func (a *schemaAssembler) disambiguate(name string, source *models.ColumnData, used map[string]bool) string {
	if !used[name] {
		return name
	}

	candidate := name
	if table := sqlutil.NormalizeIdentifier(source.TableName); table != "" && table != name {
		candidate = name + "_" + table
	}
	for n := 2; used[candidate]; n++ {
		candidate = name + "_" + strconv.Itoa(n)
	}

	a.logger.Warn("Duplicate business key name, renamed",
		zap.String("business_key", name),
		zap.String("renamed_to", candidate),
		zap.String("table", source.TableName))
	return candidate
}

func (a *schemaAssembler) Persist(ctx context.Context, buildID string, schema *models.DVSchema) error {
	schema.ModifiedAt = a.timestamp()

	if err := a.repo.Persist(ctx, buildID, schema); err != nil {
		a.logger.Error("Failed to persist dv schema",
			zap.String("build_id", buildID),
			zap.Error(err))
		return err
	}

	a.logger.Info("Persisted dv schema",
		zap.String("build_id", buildID),
		zap.String("schema_id", schema.ID.String()),
		zap.Int("business_keys", len(schema.BusinessKeys)))
	return nil
}

func (a *schemaAssembler) Load(ctx context.Context, buildID string) (*models.DVSchema, error) {
	schema, err := a.repo.Load(ctx, buildID)
	if err != nil {
		a.logger.Error("Failed to load dv schema",
			zap.String("build_id", buildID),
			zap.Error(err))
		return nil, err
	}
	return schema, nil
}

// timestamp is now in UTC at the microsecond precision Postgres stores.
func (a *schemaAssembler) timestamp() time.Time {
	return a.now().UTC().Truncate(time.Microsecond)
}
