package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"imaged/pkg/types"
)

// Engines is the repository of generation configurations. LoRAs, control
// nets and embeddings live in engine_models, keyed by kind.
type Engines struct{ s *Store }

const (
	kindLora       = "lora"
	kindControlNet = "controlnet"
	kindEmbedding  = "embedding"
)

const engineColumns = `id, name, checkpoint_model_id, vae_model_id, scheduler, scheduler_config,
	guidance_scale, seed, width, height, steps, clip_skip, long_prompt_technique,
	controlnet_conditioning_scale, control_guidance_start, control_guidance_end, created_at`

// engineRow holds the scalar columns before model references are resolved.
type engineRow struct {
	e            types.Engine
	checkpointID int64
	vaeID        *int64
}

func scanEngine(r rowScanner) (engineRow, error) {
	var row engineRow
	var schedCfg sql.NullString
	e := &row.e
	err := r.Scan(&e.ID, &e.Name, &row.checkpointID, &row.vaeID, &e.Scheduler, &schedCfg,
		&e.GuidanceScale, &e.Seed, &e.Width, &e.Height, &e.Steps, &e.ClipSkip, &e.LongPromptTechnique,
		&e.ControlNetConditioningScale, &e.ControlGuidanceStart, &e.ControlGuidanceEnd, &e.CreatedAt)
	if err != nil {
		return row, err
	}
	if schedCfg.Valid && schedCfg.String != "" {
		if err := json.Unmarshal([]byte(schedCfg.String), &e.SchedulerConfig); err != nil {
			return row, fmt.Errorf("decode scheduler_config: %w", err)
		}
	}
	return row, nil
}

func encodeJSONMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Create inserts e using the ids of its referenced models and sets e.ID.
func (r *Engines) Create(ctx context.Context, e *types.Engine) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	schedCfg, err := encodeJSONMap(e.SchedulerConfig)
	if err != nil {
		return fmt.Errorf("encode scheduler_config: %w", err)
	}
	var vaeID *int64
	if e.VAEModel != nil {
		id := e.VAEModel.ID
		vaeID = &id
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		id, err := r.s.insert(ctx, tx,
			`INSERT INTO engines (name, checkpoint_model_id, vae_model_id, scheduler, scheduler_config,
				guidance_scale, seed, width, height, steps, clip_skip, long_prompt_technique,
				controlnet_conditioning_scale, control_guidance_start, control_guidance_end, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Name, e.CheckpointModel.ID, vaeID, e.Scheduler, schedCfg,
			e.GuidanceScale, e.Seed, e.Width, e.Height, e.Steps, e.ClipSkip, e.LongPromptTechnique,
			e.ControlNetConditioningScale, e.ControlGuidanceStart, e.ControlGuidanceEnd, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert engine: %w", err)
		}
		link := func(modelID int64, kind string, weight float64, pos int) error {
			_, err := r.s.exec(ctx, tx,
				`INSERT INTO engine_models (engine_id, aimodel_id, kind, weight, position) VALUES (?, ?, ?, ?, ?)`,
				id, modelID, kind, weight, pos)
			if err != nil {
				return fmt.Errorf("link %s model %d: %w", kind, modelID, err)
			}
			return nil
		}
		for i, l := range e.Loras {
			if err := link(l.Model.ID, kindLora, l.Weight, i); err != nil {
				return err
			}
		}
		for i, m := range e.ControlNetModels {
			if err := link(m.ID, kindControlNet, 1, i); err != nil {
				return err
			}
		}
		for i, m := range e.EmbeddingModels {
			if err := link(m.ID, kindEmbedding, 1, i); err != nil {
				return err
			}
		}
		e.ID = id
		return nil
	})
}

// Get returns the engine with every model reference resolved.
func (r *Engines) Get(ctx context.Context, id int64) (types.Engine, error) {
	row, err := scanEngine(r.s.queryRow(ctx, r.s.db, `SELECT `+engineColumns+` FROM engines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Engine{}, notFound("engine", id)
	}
	if err != nil {
		return types.Engine{}, fmt.Errorf("get engine: %w", err)
	}
	return r.resolve(ctx, row)
}

// List returns every engine ordered by id.
func (r *Engines) List(ctx context.Context) ([]types.Engine, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+engineColumns+` FROM engines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list engines: %w", err)
	}
	var raw []engineRow
	for rows.Next() {
		row, err := scanEngine(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan engine: %w", err)
		}
		raw = append(raw, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]types.Engine, 0, len(raw))
	for _, row := range raw {
		e, err := r.resolve(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Engines) resolve(ctx context.Context, row engineRow) (types.Engine, error) {
	e := row.e
	ckpt, err := r.s.AIModels.Get(ctx, row.checkpointID)
	if err != nil {
		return e, fmt.Errorf("engine %d checkpoint: %w", e.ID, err)
	}
	e.CheckpointModel = ckpt
	if row.vaeID != nil {
		vae, err := r.s.AIModels.Get(ctx, *row.vaeID)
		if err != nil {
			return e, fmt.Errorf("engine %d vae: %w", e.ID, err)
		}
		e.VAEModel = &vae
	}
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT em.kind, em.weight, m.id, m.name, m.path, m.model_type, m.trigger_words, m.created_at
		FROM engine_models em JOIN aimodels m ON m.id = em.aimodel_id
		WHERE em.engine_id = ? ORDER BY em.kind, em.position`, e.ID)
	if err != nil {
		return e, fmt.Errorf("engine %d models: %w", e.ID, err)
	}
	defer rows.Close()
	e.Loras = []types.Lora{}
	e.ControlNetModels = []types.AIModel{}
	e.EmbeddingModels = []types.AIModel{}
	for rows.Next() {
		var kind, mt string
		var weight float64
		var m types.AIModel
		if err := rows.Scan(&kind, &weight, &m.ID, &m.Name, &m.Path, &mt, &m.TriggerWords, &m.CreatedAt); err != nil {
			return e, fmt.Errorf("scan engine model: %w", err)
		}
		m.ModelType = types.AIModelType(mt)
		switch kind {
		case kindLora:
			e.Loras = append(e.Loras, types.Lora{Model: m, Weight: weight})
		case kindControlNet:
			e.ControlNetModels = append(e.ControlNetModels, m)
		case kindEmbedding:
			e.EmbeddingModels = append(e.EmbeddingModels, m)
		}
	}
	return e, rows.Err()
}

// Exists reports whether an engine with id exists.
func (r *Engines) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM engines WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("engine exists: %w", err)
	}
	return n > 0, nil
}

// ExistsByName reports whether the engine name is taken.
func (r *Engines) ExistsByName(ctx context.Context, name string) (bool, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM engines WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("engine name exists: %w", err)
	}
	return n > 0, nil
}

// InUse reports whether a generator references the engine.
func (r *Engines) InUse(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM generators WHERE engine_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("engine usage: %w", err)
	}
	return n > 0, nil
}

// Delete removes the engine and its model links.
func (r *Engines) Delete(ctx context.Context, id int64) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.s.exec(ctx, tx, `DELETE FROM engine_models WHERE engine_id = ?`, id); err != nil {
			return fmt.Errorf("delete engine models: %w", err)
		}
		res, err := r.s.exec(ctx, tx, `DELETE FROM engines WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete engine: %w", err)
		}
		return expectOne(res, "engine", id)
	})
}
