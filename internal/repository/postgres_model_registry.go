package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PredServe/internal/domain/models"
	applogger "PredServe/pkg/logger"
)

// ArtifactChecker verifies an artifact against its recorded checksum and
// reports its size. Implemented by the artifact store.
type ArtifactChecker interface {
	Verify(ctx context.Context, path, checksum string) (int64, error)
}

// PGModelRegistry is the versioned model catalog on PostgreSQL.
// Deploy and rollback run inside a transaction so the serving pointer and
// the history entry commit together or not at all.
type PGModelRegistry struct {
	pool            *pgxpool.Pool
	checker         ArtifactChecker
	validationFloor float64
	maxArtifactSize int64
	validate        *validator.Validate
	l               *applogger.Logger
}

// NewPGModelRegistry creates the registry with its validation gate bounds.
func NewPGModelRegistry(pool *pgxpool.Pool, checker ArtifactChecker, validationFloor float64, maxArtifactSize int64) *PGModelRegistry {
	return &PGModelRegistry{
		pool:            pool,
		checker:         checker,
		validationFloor: validationFloor,
		maxArtifactSize: maxArtifactSize,
		validate:        validator.New(),
	}
}

// SetLogger injects a structured logger.
func (r *PGModelRegistry) SetLogger(l *applogger.Logger) { r.l = l }

// InitSchema ensures registry tables exist (idempotent).
func (r *PGModelRegistry) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS model_records (
			model_id         TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			version          TEXT NOT NULL,
			model_type       TEXT NOT NULL,
			objective        TEXT NOT NULL,
			target_variable  TEXT NOT NULL DEFAULT '',
			horizon          TEXT NOT NULL,
			validation_score DOUBLE PRECISION NOT NULL,
			test_score       DOUBLE PRECISION NOT NULL,
			status           TEXT NOT NULL,
			role             TEXT NOT NULL DEFAULT '',
			traffic_fraction DOUBLE PRECISION NOT NULL DEFAULT 0,
			artifact_path    TEXT NOT NULL,
			checksum         TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS deployment_history (
			id        BIGSERIAL PRIMARY KEY,
			objective TEXT NOT NULL,
			horizon   TEXT NOT NULL,
			model_id  TEXT NOT NULL REFERENCES model_records(model_id),
			role      TEXT NOT NULL,
			action    TEXT NOT NULL,
			at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_pointer
			ON deployment_history (objective, horizon, at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("registry schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `model_id, name, version, model_type, objective, target_variable, horizon,
	validation_score, test_score, status, role, traffic_fraction, artifact_path, checksum, created_at, updated_at`

// Register validates and stores a new model record in REGISTERED status.
// A record failing validation is rejected naming the failed check; it is
// never silently downgraded.
func (r *PGModelRegistry) Register(ctx context.Context, rec *models.ModelRecord) (string, error) {
	if rec == nil {
		return "", models.NewValidationError("record", "nil record")
	}
	if !rec.ModelType.Valid() {
		return "", models.NewValidationError("model_type", fmt.Sprintf("unknown model type %q", rec.ModelType))
	}
	if err := r.validate.StructCtx(ctx, rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", models.NewValidationError(verrs[0].Field(), verrs[0].Tag())
		}
		return "", fmt.Errorf("validate record: %w", err)
	}

	if rec.ModelID == "" {
		rec.ModelID = uuid.NewString()
	}
	rec.Status = models.StatusRegistered
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	const q = `
		INSERT INTO model_records (` + recordColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.pool.Exec(ctx, q,
		rec.ModelID, rec.Name, rec.Version, rec.ModelType, rec.Objective, rec.TargetVariable,
		rec.PredictionHorizon, rec.ValidationScore, rec.TestScore, rec.Status, rec.Role,
		rec.TrafficFraction, rec.ArtifactPath, rec.Checksum, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("register model: %w", err)
	}
	if r.l != nil {
		r.l.Info("model registered",
			applogger.String("model_id", rec.ModelID),
			applogger.String("name", rec.Name),
			applogger.String("version", rec.Version),
		)
	}
	return rec.ModelID, nil
}

// Resolve returns the current DEPLOYED champion for (objective, horizon).
func (r *PGModelRegistry) Resolve(ctx context.Context, objective, horizon string) (*models.ModelRecord, error) {
	const q = `
		SELECT ` + recordColumns + `
		FROM model_records
		WHERE objective = $1 AND horizon = $2 AND status = $3 AND role = $4
		LIMIT 1`
	rec, err := r.scanOne(r.pool.QueryRow(ctx, q, objective, horizon, models.StatusDeployed, models.RoleChampion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrModelNotFound
		}
		return nil, fmt.Errorf("resolve champion: %w", err)
	}
	return rec, nil
}

// ResolveByID returns a specific record (champion or challenger).
func (r *PGModelRegistry) ResolveByID(ctx context.Context, modelID string) (*models.ModelRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM model_records WHERE model_id = $1`
	rec, err := r.scanOne(r.pool.QueryRow(ctx, q, modelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrModelNotFound
		}
		return nil, fmt.Errorf("resolve model %s: %w", modelID, err)
	}
	return rec, nil
}

// Challengers lists DEPLOYED challengers for (objective, horizon).
func (r *PGModelRegistry) Challengers(ctx context.Context, objective, horizon string) ([]*models.ModelRecord, error) {
	const q = `
		SELECT ` + recordColumns + `
		FROM model_records
		WHERE objective = $1 AND horizon = $2 AND status = $3 AND role = $4
		ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, q, objective, horizon, models.StatusDeployed, models.RoleChallenger)
	if err != nil {
		return nil, fmt.Errorf("list challengers: %w", err)
	}
	defer rows.Close()

	var out []*models.ModelRecord
	for rows.Next() {
		rec, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenger: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Deploy promotes a registered model to DEPLOYED in the given role.
// The validation gate runs first: checksum match, validation score above
// the floor, artifact size under the ceiling. Pointer swap and history
// entry commit in one transaction.
func (r *PGModelRegistry) Deploy(ctx context.Context, modelID string, role models.DeployRole, trafficFraction float64) error {
	rec, err := r.ResolveByID(ctx, modelID)
	if err != nil {
		return err
	}
	if err := r.gate(ctx, rec); err != nil {
		return err
	}
	if role == models.RoleChallenger && (trafficFraction <= 0 || trafficFraction >= 1) {
		return models.NewValidationError("traffic_fraction", "challenger fraction must be in (0,1)")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deploy: %w", err)
	}
	defer tx.Rollback(ctx)

	if role == models.RoleChampion {
		// Demote the current champion; at most one DEPLOYED champion
		// per (objective, horizon).
		_, err = tx.Exec(ctx, `
			UPDATE model_records SET status = $1, role = '', updated_at = now()
			WHERE objective = $2 AND horizon = $3 AND status = $4 AND role = $5 AND model_id <> $6`,
			models.StatusRegistered, rec.Objective, rec.PredictionHorizon,
			models.StatusDeployed, models.RoleChampion, rec.ModelID,
		)
		if err != nil {
			return fmt.Errorf("demote champion: %w", err)
		}
		trafficFraction = 1
	}

	_, err = tx.Exec(ctx, `
		UPDATE model_records SET status = $1, role = $2, traffic_fraction = $3, updated_at = now()
		WHERE model_id = $4`,
		models.StatusDeployed, role, trafficFraction, rec.ModelID,
	)
	if err != nil {
		return fmt.Errorf("deploy model: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_history (objective, horizon, model_id, role, action)
		VALUES ($1, $2, $3, $4, 'deploy')`,
		rec.Objective, rec.PredictionHorizon, rec.ModelID, role,
	)
	if err != nil {
		return fmt.Errorf("record deployment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deploy: %w", err)
	}
	if r.l != nil {
		r.l.Info("model deployed",
			applogger.String("model_id", rec.ModelID),
			applogger.String("role", string(role)),
			applogger.String("objective", rec.Objective),
			applogger.String("horizon", rec.PredictionHorizon),
		)
	}
	return nil
}

// Rollback restores the previous champion for (objective, horizon) and
// returns it. Archive of the current champion, promotion of the previous
// one and the history entry commit atomically.
func (r *PGModelRegistry) Rollback(ctx context.Context, objective, horizon string) (*models.ModelRecord, error) {
	current, err := r.Resolve(ctx, objective, horizon)
	if err != nil {
		return nil, err
	}

	const prevQ = `
		SELECT model_id FROM deployment_history
		WHERE objective = $1 AND horizon = $2 AND role = $3 AND action = 'deploy' AND model_id <> $4
		ORDER BY at DESC
		LIMIT 1`
	var prevID string
	if err := r.pool.QueryRow(ctx, prevQ, objective, horizon, models.RoleChampion, current.ModelID).Scan(&prevID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrModelNotFound
		}
		return nil, fmt.Errorf("find previous champion: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE model_records SET status = $1, role = '', updated_at = now() WHERE model_id = $2`,
		models.StatusArchived, current.ModelID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive champion: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE model_records SET status = $1, role = $2, traffic_fraction = 1, updated_at = now()
		WHERE model_id = $3`,
		models.StatusDeployed, models.RoleChampion, prevID,
	)
	if err != nil {
		return nil, fmt.Errorf("restore previous champion: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_history (objective, horizon, model_id, role, action)
		VALUES ($1, $2, $3, $4, 'rollback')`,
		objective, horizon, prevID, models.RoleChampion,
	)
	if err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rollback: %w", err)
	}

	if r.l != nil {
		r.l.Warn("champion rolled back",
			applogger.String("objective", objective),
			applogger.String("horizon", horizon),
			applogger.String("restored", prevID),
		)
	}
	return r.ResolveByID(ctx, prevID)
}

// Health pings the backing pool.
func (r *PGModelRegistry) Health(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// gate is the pre-deploy validation: each failure names the failed check.
func (r *PGModelRegistry) gate(ctx context.Context, rec *models.ModelRecord) error {
	if rec.ValidationScore < r.validationFloor {
		return models.NewValidationError("validation_score",
			fmt.Sprintf("%.3f below floor %.3f", rec.ValidationScore, r.validationFloor))
	}
	size, err := r.checker.Verify(ctx, rec.ArtifactPath, rec.Checksum)
	if err != nil {
		return models.NewValidationError("checksum", err.Error())
	}
	if r.maxArtifactSize > 0 && size > r.maxArtifactSize {
		return models.NewValidationError("artifact_size",
			fmt.Sprintf("%d bytes exceeds ceiling %d", size, r.maxArtifactSize))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGModelRegistry) scanOne(row rowScanner) (*models.ModelRecord, error) {
	var rec models.ModelRecord
	err := row.Scan(
		&rec.ModelID, &rec.Name, &rec.Version, &rec.ModelType, &rec.Objective, &rec.TargetVariable,
		&rec.PredictionHorizon, &rec.ValidationScore, &rec.TestScore, &rec.Status, &rec.Role,
		&rec.TrafficFraction, &rec.ArtifactPath, &rec.Checksum, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
