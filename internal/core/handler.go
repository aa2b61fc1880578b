package core

import (
	"context"
	"errors"
	"fmt"
	"kakigoori-worker/internal/encoder"
	"kakigoori-worker/internal/messaging"
	"log/slog"
	"os"
	"path/filepath"
)

type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// TaskHandler runs one encode job end to end: it stages the request in the
// scratch directory, runs the encoder and publishes the encoded file.
type TaskHandler struct {
	encoder    encoder.Encoder
	publisher  messaging.Publisher
	scratchDir string
}

func NewTaskHandler(enc encoder.Encoder, publisher messaging.Publisher, scratchDir string) *TaskHandler {
	return &TaskHandler{encoder: enc, publisher: publisher, scratchDir: scratchDir}
}

func (h *TaskHandler) inputPath(variantId string) string {
	return filepath.Join(h.scratchDir, variantId+"_input")
}

func (h *TaskHandler) outputPath(variantId string) string {
	return filepath.Join(h.scratchDir, variantId+"_output")
}

// Scratch file names are built from the variant id, so it has to be a single
// path element.
func validateVariantId(variantId string) error {
	if variantId == "" || variantId == "." || variantId == ".." || filepath.Base(variantId) != variantId || filepath.IsAbs(variantId) {
		return fmt.Errorf("%w: variant_id %q cannot be used as a file name", ErrMalformedMessage, variantId)
	}
	return nil
}

func (h *TaskHandler) Handle(ctx context.Context, body []byte) error {
	// Jobs are never interrupted once started.
	ctx = context.WithoutCancel(ctx)

	req, err := messaging.DecodeTaskRequest(body)
	if err != nil {
		return err
	}
	if err := validateVariantId(req.VariantId); err != nil {
		return err
	}

	slog.Info("new task", "format", h.encoder.Name(), "variant_id", req.VariantId, "bytes", len(req.OriginalFile))

	inputPath, outputPath := h.inputPath(req.VariantId), h.outputPath(req.VariantId)

	if err := os.WriteFile(inputPath, req.OriginalFile, 0o644); err != nil {
		return fmt.Errorf("%w %s: %w", ErrScratchWrite, inputPath, err)
	}

	outcome, err := h.encoder.Encode(ctx, inputPath, outputPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	// Scratch files are only removed on the success path.
	if !outcome.Success() {
		return &EncodeError{Format: h.encoder.Name(), ExitCode: outcome.ExitCode, Output: outcome.Output}
	}

	variant, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrScratchRead, outputPath, err)
	}

	if err := errors.Join(os.Remove(inputPath), os.Remove(outputPath)); err != nil {
		return fmt.Errorf("%w: %w", ErrScratchCleanup, err)
	}

	respBody, err := messaging.EncodeTaskResponse(messaging.TaskResponse{VariantFile: variant, VariantId: req.VariantId})
	if err != nil {
		return fmt.Errorf("error encoding task response: %w", err)
	}

	if err := h.publisher.Publish(ctx, respBody); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}

	slog.Info("task succeeded", "format", h.encoder.Name(), "variant_id", req.VariantId, "bytes", len(variant))

	return nil
}
