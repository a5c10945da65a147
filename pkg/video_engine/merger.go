package video_engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
	"film-forge-server/pkg/storage"
)

// MergeError reports a failed concatenation: zero usable inputs or a non-zero
// ffmpeg exit. Output carries the subprocess diagnostics.
type MergeError struct {
	Reason string
	Output string
	Err    error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("merge failed: %s", e.Reason)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Merger losslessly concatenates stored videos via ffmpeg's concat demuxer.
// Inputs are assumed codec-compatible since they all come from the same
// generation service; no re-encoding happens here.
type Merger struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	store       storage.Store
}

func NewMerger(cfg *config.Config, store storage.Store) *Merger {
	return &Merger{
		ffmpegPath:  cfg.FFmpeg.FFmpegPath,
		ffprobePath: cfg.FFmpeg.FFprobePath,
		tempDir:     cfg.Storage.TempPath,
		store:       store,
	}
}

// BuildConcatList renders the concat demuxer input: one `file '<path>'` line
// per source, in order. Single quotes in paths are escaped the ffmpeg way.
func BuildConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// MergeHandles fetches every source, concatenates them in order and stores
// the result, returning its handle and probed duration. Transient local
// copies are removed on success and failure alike.
func (m *Merger) MergeHandles(ctx context.Context, handles []string) (string, float64, error) {
	if len(handles) == 0 {
		return "", 0, &MergeError{Reason: "no usable inputs"}
	}

	workDir, err := os.MkdirTemp(m.tempDir, "merge-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create merge workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPaths := make([]string, 0, len(handles))
	for i, handle := range handles {
		local := filepath.Join(workDir, fmt.Sprintf("part_%04d.mp4", i))
		if err := m.store.Fetch(handle, local); err != nil {
			return "", 0, &MergeError{Reason: fmt.Sprintf("failed to fetch input %s", handle), Err: err}
		}
		inputPaths = append(inputPaths, local)
	}

	outputPath := filepath.Join(workDir, "merged.mp4")
	if err := m.concat(ctx, inputPaths, outputPath); err != nil {
		return "", 0, err
	}

	out, err := os.Open(outputPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open merge output: %w", err)
	}
	defer out.Close()

	handle, err := m.store.Put(out, ".mp4")
	if err != nil {
		return "", 0, fmt.Errorf("failed to store merge output: %w", err)
	}

	duration := m.probeDuration(ctx, outputPath)
	logger.Infof("Merged %d segments into %s (%.1fs)", len(handles), handle, duration)
	return handle, duration, nil
}

func (m *Merger) concat(ctx context.Context, inputPaths []string, outputPath string) error {
	listPath := outputPath + ".concat"
	if err := os.WriteFile(listPath, []byte(BuildConcatList(inputPaths)), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	// Stream copy only; inputs share codec and container.
	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Errorf("ffmpeg concat failed: %v", err)
		return &MergeError{Reason: "ffmpeg exited non-zero", Output: string(output), Err: err}
	}

	return nil
}

// probeDuration reads the container duration via ffprobe; a probe failure is
// logged and reported as zero rather than failing the merge.
func (m *Merger) probeDuration(ctx context.Context, filePath string) float64 {
	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		logger.Warnf("Failed to probe duration of %s: %v", filePath, err)
		return 0
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &duration); err != nil {
		return 0
	}
	return duration
}
