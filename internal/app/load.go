package app

import (
	"context"
	"fmt"

	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/tensor"
)

func (a *App) loadModel(ctx context.Context) error {
	a.logger.Debug("Loading pipelines...", "pipeline_path", a.config.PipelinePath)
	model, err := a.loader.Load(ctx, a.config.PipelinePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.model = model
	a.logger.Info("Pipelines loaded successfully.", "pipelines_found", len(model.Pipelines))
	return nil
}

func (a *App) pipelineDefinition() (*config.Pipeline, error) {
	def, err := a.model.Pipeline(a.config.PipelineName)
	if err != nil {
		return nil, fmt.Errorf("failed to select pipeline: %w", err)
	}
	return def, nil
}

// loadRequest reads the request document and encodes its tensors. The caller
// owns the returned buffers.
func (a *App) loadRequest(ctx context.Context) (map[string]*tensor.Buffer, error) {
	a.logger.Debug("Loading request...", "request_path", a.config.RequestPath)
	req, err := a.loader.LoadRequest(ctx, a.config.RequestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	inputs, err := pipeline.RequestInputs(req)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Request loaded.", "tensors", len(inputs))
	return inputs, nil
}
