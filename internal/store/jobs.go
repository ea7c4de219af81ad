package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"imaged/pkg/types"
)

// Jobs is the repository of jobs. A job is always written and deleted
// together with its images and their control images.
type Jobs struct{ s *Store }

// JobFilter narrows List. Zero fields match everything.
type JobFilter struct {
	GeneratorID int64
	Status      types.JobStatus
}

const jobColumns = `id, generator_id, status, ip_adapter_config, created_at`

func scanJob(r rowScanner) (types.Job, error) {
	var j types.Job
	var status string
	var ipCfg sql.NullString
	if err := r.Scan(&j.ID, &j.GeneratorID, &status, &ipCfg, &j.CreatedAt); err != nil {
		return j, err
	}
	j.Status = types.JobStatus(status)
	if ipCfg.Valid && ipCfg.String != "" {
		if err := json.Unmarshal([]byte(ipCfg.String), &j.IPAdapterConfig); err != nil {
			return j, fmt.Errorf("decode ip_adapter_config: %w", err)
		}
	}
	return j, nil
}

// Create inserts j in status waiting with its images and control images, and
// sets the generated ids on j.
func (r *Jobs) Create(ctx context.Context, j *types.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.Status = types.JobWaiting
	ipCfg, err := encodeJSONMap(j.IPAdapterConfig)
	if err != nil {
		return fmt.Errorf("encode ip_adapter_config: %w", err)
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		jobID, err := r.s.insert(ctx, tx,
			`INSERT INTO jobs (generator_id, status, ip_adapter_config, created_at) VALUES (?, ?, ?, ?)`,
			j.GeneratorID, string(j.Status), ipCfg, j.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		for i := range j.Images {
			img := &j.Images[i]
			img.JobID = jobID
			img.GeneratorID = j.GeneratorID
			img.Ready = false
			imgID, err := r.s.insert(ctx, tx,
				`INSERT INTO images (job_id, generator_id, position, name, prompt, negative_prompt, seed,
					guidance_scale, width, height, steps, control_guidance_start, control_guidance_end,
					file_type, file_path, ready)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				jobID, j.GeneratorID, i, img.Name, img.Prompt, img.NegativePrompt, img.Seed,
				img.GuidanceScale, img.Width, img.Height, img.Steps, img.ControlGuidanceStart, img.ControlGuidanceEnd,
				string(img.FileType), img.FilePath, false)
			if err != nil {
				return fmt.Errorf("insert image %d: %w", i, err)
			}
			img.ID = imgID
			for k, c := range img.ControlImages {
				_, err := r.s.exec(ctx, tx,
					`INSERT INTO control_images (image_id, position, aimodel_id, file_path,
						controlnet_conditioning_scale, canny_low_threshold, canny_high_threshold)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					imgID, k, c.AIModelID, c.FilePath, c.ControlNetConditioningScale, c.CannyLowThreshold, c.CannyHighThreshold)
				if err != nil {
					return fmt.Errorf("insert control image %d/%d: %w", i, k, err)
				}
			}
		}
		j.ID = jobID
		return nil
	})
}

// Get returns the job with its images in request order.
func (r *Jobs) Get(ctx context.Context, id int64) (types.Job, error) {
	j, err := scanJob(r.s.queryRow(ctx, r.s.db, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, notFound("job", id)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("get job: %w", err)
	}
	if j.Images, err = r.s.Images.ListByJob(ctx, id); err != nil {
		return types.Job{}, err
	}
	return j, nil
}

// List returns jobs matching f, oldest first, with images.
func (r *Jobs) List(ctx context.Context, f JobFilter) ([]types.Job, error) {
	var where []string
	var args []any
	if f.GeneratorID != 0 {
		where = append(where, "generator_id = ?")
		args = append(args, f.GeneratorID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	rows, err := r.s.query(ctx, r.s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := []types.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Images, err = r.s.Images.ListByJob(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OldestWaiting returns the earliest waiting job of a generator, or an error
// matching ErrNotFound when there is none.
func (r *Jobs) OldestWaiting(ctx context.Context, generatorID int64) (types.Job, error) {
	var id int64
	err := r.s.queryRow(ctx, r.s.db,
		`SELECT id FROM jobs WHERE generator_id = ? AND status = ? ORDER BY id LIMIT 1`,
		generatorID, string(types.JobWaiting)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("waiting job for generator %d: %w", generatorID, ErrNotFound)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("oldest waiting job: %w", err)
	}
	return r.Get(ctx, id)
}

// UpdateStatus persists a job status transition.
func (r *Jobs) UpdateStatus(ctx context.Context, id int64, status types.JobStatus) error {
	res, err := r.s.exec(ctx, r.s.db, `UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return expectOne(res, "job", id)
}

// FailProcessing marks every processing job of a generator failed and
// returns how many rows changed.
func (r *Jobs) FailProcessing(ctx context.Context, generatorID int64) (int64, error) {
	res, err := r.s.exec(ctx, r.s.db, `UPDATE jobs SET status = ? WHERE generator_id = ? AND status = ?`,
		string(types.JobFailed), generatorID, string(types.JobProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail processing jobs: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes the job with its images and control images. A processing
// job is left untouched and ErrJobProcessing returned.
func (r *Jobs) Delete(ctx context.Context, id int64) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		// the first write takes the row (postgres) or database (sqlite) lock,
		// so the status cannot move to processing before the delete commits
		res, err := r.s.exec(ctx, tx, `UPDATE jobs SET status = status WHERE id = ? AND status <> ?`,
			id, string(types.JobProcessing))
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			var status string
			err := r.s.queryRow(ctx, tx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("job", id)
			}
			if err != nil {
				return fmt.Errorf("get job status: %w", err)
			}
			return ErrJobProcessing
		}
		if err := r.deleteImages(ctx, tx, `job_id = ?`, id); err != nil {
			return err
		}
		res, err = r.s.exec(ctx, tx, `DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return expectOne(res, "job", id)
	})
}

// DeleteByGenerator removes every job of a generator and returns the count.
func (r *Jobs) DeleteByGenerator(ctx context.Context, generatorID int64) (int64, error) {
	var n int64
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.deleteImages(ctx, tx, `generator_id = ?`, generatorID); err != nil {
			return err
		}
		res, err := r.s.exec(ctx, tx, `DELETE FROM jobs WHERE generator_id = ?`, generatorID)
		if err != nil {
			return fmt.Errorf("delete generator jobs: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (r *Jobs) deleteImages(ctx context.Context, tx *sql.Tx, cond string, arg int64) error {
	if _, err := r.s.exec(ctx, tx,
		`DELETE FROM control_images WHERE image_id IN (SELECT id FROM images WHERE `+cond+`)`, arg); err != nil {
		return fmt.Errorf("delete control images: %w", err)
	}
	if _, err := r.s.exec(ctx, tx, `DELETE FROM images WHERE `+cond, arg); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

// Images is the repository of image requests and results.
type Images struct{ s *Store }

const imageColumns = `id, job_id, generator_id, name, prompt, negative_prompt, seed, guidance_scale,
	width, height, steps, control_guidance_start, control_guidance_end, file_type, file_path, ready`

func scanImage(r rowScanner) (types.Image, error) {
	var img types.Image
	var ft string
	err := r.Scan(&img.ID, &img.JobID, &img.GeneratorID, &img.Name, &img.Prompt, &img.NegativePrompt,
		&img.Seed, &img.GuidanceScale, &img.Width, &img.Height, &img.Steps,
		&img.ControlGuidanceStart, &img.ControlGuidanceEnd, &ft, &img.FilePath, &img.Ready)
	img.FileType = types.FileImageType(ft)
	return img, err
}

// Get returns the image with its control images.
func (r *Images) Get(ctx context.Context, id int64) (types.Image, error) {
	img, err := scanImage(r.s.queryRow(ctx, r.s.db, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Image{}, notFound("image", id)
	}
	if err != nil {
		return types.Image{}, fmt.Errorf("get image: %w", err)
	}
	if img.ControlImages, err = r.controlImages(ctx, id); err != nil {
		return types.Image{}, err
	}
	return img, nil
}

// ListByJob returns the images of a job in request order.
func (r *Images) ListByJob(ctx context.Context, jobID int64) ([]types.Image, error) {
	return r.list(ctx, `job_id = ?`, jobID)
}

// ListByGenerator returns every image produced for a generator.
func (r *Images) ListByGenerator(ctx context.Context, generatorID int64) ([]types.Image, error) {
	return r.list(ctx, `generator_id = ?`, generatorID)
}

func (r *Images) list(ctx context.Context, cond string, arg int64) ([]types.Image, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+imageColumns+` FROM images WHERE `+cond+` ORDER BY job_id, position`, arg)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	out := []types.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].ControlImages, err = r.controlImages(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Images) controlImages(ctx context.Context, imageID int64) ([]types.ControlImage, error) {
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT aimodel_id, file_path, controlnet_conditioning_scale, canny_low_threshold, canny_high_threshold
		FROM control_images WHERE image_id = ? ORDER BY position`, imageID)
	if err != nil {
		return nil, fmt.Errorf("list control images: %w", err)
	}
	defer rows.Close()
	out := []types.ControlImage{}
	for rows.Next() {
		var c types.ControlImage
		if err := rows.Scan(&c.AIModelID, &c.FilePath, &c.ControlNetConditioningScale, &c.CannyLowThreshold, &c.CannyHighThreshold); err != nil {
			return nil, fmt.Errorf("scan control image: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetReady flips the ready flag of one image.
func (r *Images) SetReady(ctx context.Context, id int64) error {
	res, err := r.s.exec(ctx, r.s.db, `UPDATE images SET ready = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("set image ready: %w", err)
	}
	return expectOne(res, "image", id)
}
