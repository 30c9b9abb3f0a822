package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Seconds each slide stays on screen.
const slideDuration = 3

// SlideshowComposer renders slideshow images into an mp4 with ffmpeg and
// stores the result alongside the other media objects.
type SlideshowComposer struct {
	r2   *R2Service
	http *http.Client
}

func NewSlideshowComposer(r2 *R2Service) *SlideshowComposer {
	return &SlideshowComposer{
		r2:   r2,
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *SlideshowComposer) Compose(ctx context.Context, userID int64, imageURLs []string) (*ComposedVideo, error) {
	workDir, err := os.MkdirTemp("", "postflow-slideshow-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	for i, imageURL := range imageURLs {
		if err := c.downloadImage(ctx, imageURL, filepath.Join(workDir, fmt.Sprintf("slide-%03d.img", i))); err != nil {
			return nil, fmt.Errorf("download slide %d: %w", i+1, err)
		}
	}

	outputPath := filepath.Join(workDir, "slideshow.mp4")
	if err := c.renderVideo(ctx, workDir, outputPath); err != nil {
		return nil, err
	}

	videoBytes, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, err
	}

	key, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	if err := c.r2.UploadToR2(ctx, key, videoBytes, "video/mp4"); err != nil {
		return nil, err
	}

	slog.Info("slideshow rendered", "user_id", userID, "slides", len(imageURLs), "bytes", len(videoBytes))

	return &ComposedVideo{
		FileName: key,
		FileSize: int64(len(videoBytes)),
		FileURL:  c.r2.PublicURL(key),
	}, nil
}

func (c *SlideshowComposer) downloadImage(ctx context.Context, imageURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, resp.Body)
	return err
}

// renderVideo concatenates the downloaded slides into an H.264 mp4. Even
// dimensions are forced because yuv420p requires them.
func (c *SlideshowComposer) renderVideo(ctx context.Context, workDir, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-framerate", fmt.Sprintf("1/%d", slideDuration),
		"-pattern_type", "glob",
		"-i", filepath.Join(workDir, "slide-*.img"),
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-r", "30",
		"-pix_fmt", "yuv420p",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.Info("ffmpeg failed", "output", string(output))
		return fmt.Errorf("render slideshow: %w", err)
	}
	return nil
}
