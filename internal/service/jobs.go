package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imaged/internal/common/fsutil"
	"imaged/internal/store"
	"imaged/pkg/types"
)

func (s *Service) ListJobs(ctx context.Context, f store.JobFilter) ([]types.Job, error) {
	return s.st.Jobs.List(ctx, f)
}

func (s *Service) GetJob(ctx context.Context, id int64) (types.Job, error) {
	j, err := s.st.Jobs.Get(ctx, id)
	return j, notFound(err)
}

// CreateJob validates the request, writes decoded control images under the
// images directory, stores the job as waiting and signals the supervisor.
func (s *Service) CreateJob(ctx context.Context, in types.JobInput) (types.Job, error) {
	var v validation
	ok, err := s.st.Generators.Exists(ctx, in.GeneratorID)
	if err != nil {
		return types.Job{}, err
	}
	if !ok {
		v.add("generator_id", "generator with id %d doesn't exist", in.GeneratorID)
	}
	if len(in.Images) == 0 {
		v.add("images", "at least one image is required")
	}

	job := types.Job{GeneratorID: in.GeneratorID, IPAdapterConfig: in.IPAdapterConfig}
	// decoded control images, parallel to job.Images[i].ControlImages
	var controlData [][][]byte
	for i, im := range in.Images {
		field := fmt.Sprintf("images[%d]", i)
		if strings.TrimSpace(im.Prompt) == "" {
			v.add(field+".prompt", "prompt can't be empty")
		}
		positive(&v, field+".width", im.Width)
		positive(&v, field+".height", im.Height)
		positive(&v, field+".steps", im.Steps)
		ft := im.FileType
		if ft == "" {
			ft = types.FilePNG
		}
		if !ft.Valid() {
			v.add(field+".file_type", "unsupported file type %q", im.FileType)
		}
		img := types.Image{
			Name:                 im.Name,
			Prompt:               im.Prompt,
			NegativePrompt:       im.NegativePrompt,
			Seed:                 im.Seed,
			GuidanceScale:        im.GuidanceScale,
			Width:                im.Width,
			Height:               im.Height,
			Steps:                im.Steps,
			ControlGuidanceStart: im.ControlGuidanceStart,
			ControlGuidanceEnd:   im.ControlGuidanceEnd,
			FileType:             ft,
			FilePath:             filepath.Join(s.imagesDir, uuid.NewString()+"."+string(ft)),
			ControlImages:        []types.ControlImage{},
		}
		var decoded [][]byte
		for k, c := range im.ControlImages {
			cfield := fmt.Sprintf("%s.control_images[%d]", field, k)
			data, err := base64.StdEncoding.DecodeString(c.DataBase64)
			if err != nil || len(data) == 0 {
				v.add(cfield+".data_base64", "invalid base64 image data")
			}
			if c.AIModelID != nil {
				_, ok, err := s.modelOfType(ctx, *c.AIModelID, types.AIModelControlNet)
				if err != nil {
					return types.Job{}, err
				}
				if !ok {
					v.add(cfield+".aimodel_id", "control net model with id %d doesn't exist", *c.AIModelID)
				}
			}
			img.ControlImages = append(img.ControlImages, types.ControlImage{
				AIModelID:                   c.AIModelID,
				FilePath:                    filepath.Join(s.imagesDir, "control-"+uuid.NewString()+imageExt(data)),
				ControlNetConditioningScale: c.ControlNetConditioningScale,
				CannyLowThreshold:           c.CannyLowThreshold,
				CannyHighThreshold:          c.CannyHighThreshold,
			})
			decoded = append(decoded, data)
		}
		job.Images = append(job.Images, img)
		controlData = append(controlData, decoded)
	}
	if err := v.err(); err != nil {
		return types.Job{}, err
	}

	var written []string
	cleanup := func() {
		for _, p := range written {
			_ = fsutil.RemoveIfExists(p)
		}
	}
	for i, img := range job.Images {
		for k, c := range img.ControlImages {
			if err := fsutil.WriteFileAtomic(c.FilePath, controlData[i][k], 0o644); err != nil {
				cleanup()
				return types.Job{}, fmt.Errorf("write control image: %w", err)
			}
			written = append(written, c.FilePath)
		}
	}
	if err := s.st.Jobs.Create(ctx, &job); err != nil {
		cleanup()
		return types.Job{}, err
	}
	s.log.Info().Int64("job_id", job.ID).Int64("generator_id", job.GeneratorID).Int("images", len(job.Images)).Msg("job created")
	s.sup.SendNewJobSignal(job.ID)
	return job, nil
}

// DeleteJob removes a job no worker is on, then its files.
func (s *Service) DeleteJob(ctx context.Context, id int64) error {
	job, err := s.st.Jobs.Get(ctx, id)
	if err != nil {
		return notFound(err)
	}
	if job.Status == types.JobProcessing || s.sup.IsJobClaimed(id) {
		return conflictf("job with id %d is being processed and can't be deleted yet", id)
	}
	if err := s.st.Jobs.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrJobProcessing) {
			return conflictf("job with id %d is being processed and can't be deleted yet", id)
		}
		return notFound(err)
	}
	s.removeImageFiles(job.Images)
	s.log.Info().Int64("job_id", id).Msg("job deleted")
	return nil
}

// ListImages returns the images of an existing job.
func (s *Service) ListImages(ctx context.Context, jobID int64) ([]types.Image, error) {
	job, err := s.st.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, notFound(err)
	}
	return job.Images, nil
}

func (s *Service) GetImage(ctx context.Context, id int64) (types.Image, error) {
	img, err := s.st.Images.Get(ctx, id)
	return img, notFound(err)
}

func positive(v *validation, field string, n *int) {
	if n != nil && *n <= 0 {
		v.add(field, "%s must be positive", field[strings.LastIndexByte(field, '.')+1:])
	}
}

// imageExt picks a file extension from the sniffed content type.
func imageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
