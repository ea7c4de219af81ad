package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"imaged/pkg/types"
)

// AIModels is the repository of model files.
type AIModels struct{ s *Store }

const aimodelColumns = `id, name, path, model_type, trigger_words, created_at`

func scanAIModel(r rowScanner) (types.AIModel, error) {
	var m types.AIModel
	var mt string
	err := r.Scan(&m.ID, &m.Name, &m.Path, &mt, &m.TriggerWords, &m.CreatedAt)
	m.ModelType = types.AIModelType(mt)
	return m, err
}

// Create inserts m and sets its ID.
func (r *AIModels) Create(ctx context.Context, m *types.AIModel) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	id, err := r.s.insert(ctx, r.s.db,
		`INSERT INTO aimodels (name, path, model_type, trigger_words, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.Name, m.Path, string(m.ModelType), m.TriggerWords, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert aimodel: %w", err)
	}
	m.ID = id
	return nil
}

// Get returns the model with the given id.
func (r *AIModels) Get(ctx context.Context, id int64) (types.AIModel, error) {
	m, err := scanAIModel(r.s.queryRow(ctx, r.s.db, `SELECT `+aimodelColumns+` FROM aimodels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, notFound("aimodel", id)
	}
	if err != nil {
		return m, fmt.Errorf("get aimodel: %w", err)
	}
	return m, nil
}

// GetByPath returns the model registered for path.
func (r *AIModels) GetByPath(ctx context.Context, path string) (types.AIModel, error) {
	m, err := scanAIModel(r.s.queryRow(ctx, r.s.db, `SELECT `+aimodelColumns+` FROM aimodels WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("aimodel with path %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("get aimodel by path: %w", err)
	}
	return m, nil
}

// List returns every model ordered by id.
func (r *AIModels) List(ctx context.Context) ([]types.AIModel, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+aimodelColumns+` FROM aimodels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list aimodels: %w", err)
	}
	defer rows.Close()
	out := []types.AIModel{}
	for rows.Next() {
		m, err := scanAIModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aimodel: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InUse reports whether any engine references the model.
func (r *AIModels) InUse(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.s.queryRow(ctx, r.s.db,
		`SELECT (SELECT COUNT(*) FROM engines WHERE checkpoint_model_id = ? OR vae_model_id = ?)
		      + (SELECT COUNT(*) FROM engine_models WHERE aimodel_id = ?)`, id, id, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("aimodel usage: %w", err)
	}
	return n > 0, nil
}

// Delete removes the model row.
func (r *AIModels) Delete(ctx context.Context, id int64) error {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM aimodels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete aimodel: %w", err)
	}
	return expectOne(res, "aimodel", id)
}
