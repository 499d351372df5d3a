package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"transcription-scheduler/internal/models"
)

// progressRe matches whisper.cpp style progress lines on stderr,
// e.g. "whisper_print_progress_callback: progress =  45%".
var progressRe = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// ExecTranscriber runs an external whisper-style binary per job. The process
// is killed when ctx is cancelled, which covers both job timeouts and
// cooperative cancellation.
type ExecTranscriber struct {
	Command   string
	ModelPath string
}

func (t *ExecTranscriber) Transcribe(ctx context.Context, req Request, progress func(pct int)) (models.Result, error) {
	if _, err := os.Stat(req.Input.Path); err != nil {
		return models.Result{}, models.NewJobError(models.KindInvalidInput, "input not readable: %v", err)
	}

	model := req.Options.Model
	if model == "" {
		model = t.ModelPath
	}
	args := []string{"--model", model, "--file", req.Input.Path, "--print-progress", "--no-timestamps"}
	if req.Options.Language != "" {
		args = append(args, "--language", req.Options.Language)
	}
	if req.Options.Translate {
		args = append(args, "--translate")
	}
	if req.Options.Temperature > 0 {
		args = append(args, "--temperature", strconv.FormatFloat(req.Options.Temperature, 'f', 2, 64))
	}

	cmd := exec.CommandContext(ctx, t.Command, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return models.Result{}, models.NewJobError(models.KindExecutionFailure, "stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return models.Result{}, models.NewJobError(models.KindExecutionFailure, "start %s: %v", t.Command, err)
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if m := progressRe.FindStringSubmatch(scanner.Text()); m != nil && progress != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				progress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return models.Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.Result{}, models.NewJobError(models.KindExecutionFailure, "%s exited: %v", t.Command, err)
		}
		return models.Result{}, models.NewJobError(models.KindExecutionFailure, "run %s: %v", t.Command, err)
	}

	return models.Result{
		Text:     strings.TrimSpace(stdout.String()),
		Language: req.Options.Language,
	}, nil
}
