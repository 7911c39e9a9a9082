package generation

import (
	"context"
	"fmt"

	"github.com/ahsann455/recap-render-ai/internal/avatar"
	"github.com/ahsann455/recap-render-ai/internal/llm"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/pricing"
)

// Manifest is the assembly input for the video composer.
type Manifest struct {
	JobID  string          `json:"job_id"`
	Title  string          `json:"title"`
	Size   [2]int          `json:"size"`
	Theme  string          `json:"theme"`
	FPS    int             `json:"fps"`
	Scenes []ManifestScene `json:"scenes"`
}

type ManifestScene struct {
	Title       string  `json:"title"`
	Narration   string  `json:"narration"`
	Visual      string  `json:"visual,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	AvatarVideo string  `json:"avatar_video"`
}

func frameSize(resolution string) [2]int {
	if resolution == pricing.Resolution1080p {
		return [2]int{1920, 1080}
	}
	return [2]int{1280, 720}
}

// pipeline runs every stage for job and returns the manifest URL.
func (s *service) pipeline(ctx context.Context, job *models.GenerationJob) (resultURL string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPipelinePanic, r)
		}
	}()

	mode, err := llm.ParseMode(job.Options.Mode)
	if err != nil {
		return "", err
	}
	style, err := llm.ParseStyle(job.Options.Style)
	if err != nil {
		return "", err
	}

	s.stage(ctx, job, models.StageScript)
	script, err := s.scripts.GenerateScript(ctx, job.SourceText, mode, style)
	if err != nil {
		return "", err
	}

	s.stage(ctx, job, models.StageScenes)
	breakdown, err := s.scripts.GenerateSceneBreakdown(ctx, script)
	if err != nil {
		return "", err
	}
	scenes := ParseScenes(breakdown)
	if len(scenes) == 0 {
		return "", ErrNoScenes
	}

	manifest := &Manifest{
		JobID:  job.ID.String(),
		Title:  jobTitle(job),
		Size:   frameSize(job.Options.Resolution),
		Theme:  "dark",
		FPS:    24,
		Scenes: make([]ManifestScene, 0, len(scenes)),
	}
	for i, sc := range scenes {
		s.stage(ctx, job, fmt.Sprintf("%s %d/%d", models.StageSynthesis, i+1, len(scenes)))
		clipURL, err := s.synthesize(ctx, job, i, sc)
		if err != nil {
			return "", fmt.Errorf("scene %d: %w", i+1, err)
		}
		manifest.Scenes = append(manifest.Scenes, ManifestScene{
			Title:       sc.Title,
			Narration:   sc.Narration,
			Visual:      sc.Visual,
			DurationSec: sc.DurationSec,
			AvatarVideo: clipURL,
		})
	}

	s.stage(ctx, job, models.StageAssembled)
	data, err := marshalManifest(manifest)
	if err != nil {
		return "", err
	}
	url, err := s.artifacts.Put(ctx, fmt.Sprintf("jobs/%s/scenes.json", job.ID), data, "application/json")
	if err != nil {
		return "", fmt.Errorf("store manifest: %w", err)
	}
	return url, nil
}

// synthesize renders one scene with the avatar provider and stores the clip.
func (s *service) synthesize(ctx context.Context, job *models.GenerationJob, i int, sc Scene) (string, error) {
	externalID, err := s.avatar.Submit(ctx, avatar.JobSpec{
		Text:           sc.Narration,
		VoiceID:        job.Options.VoiceID,
		SourceImageURL: job.Options.AvatarURL,
		AspectRatio:    avatar.DefaultAspectRatio,
	})
	if err != nil {
		return "", err
	}
	resultURL, err := s.avatar.Poll(ctx, externalID, s.cfg.PollTimeout, s.cfg.PollInterval)
	if err != nil {
		return "", err
	}
	clip, err := s.avatar.Fetch(ctx, resultURL)
	if err != nil {
		return "", err
	}
	url, err := s.artifacts.Put(ctx, fmt.Sprintf("jobs/%s/scene-%02d.mp4", job.ID, i+1), clip, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}
	return url, nil
}

func (s *service) stage(ctx context.Context, job *models.GenerationJob, stage string) {
	if err := s.store.SetJobStage(ctx, job.ID, stage); err != nil {
		s.log.Warn("record job stage failed", "job_id", job.ID, "stage", stage, "error", err)
		return
	}
	job.Stage = stage
	s.log.Debug("generation stage", "job_id", job.ID, "stage", stage)
}
