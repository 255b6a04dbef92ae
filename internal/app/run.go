package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/metrics"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/tensor"
)

// Run builds the selected pipeline, executes the request through it once
// and writes the response tensors to the output writer.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	def, err := a.pipelineDefinition()
	if err != nil {
		return err
	}

	m := metrics.New(def.Name)
	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort, m.Handler())
		defer a.closeHealthcheckServer(ctx)
	}

	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if a.config.WorkerCount > 0 {
		opts = append(opts, pipeline.WithWorkers(a.config.WorkerCount))
	}
	p, err := pipeline.Build(ctx, def, a.registry, opts...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer p.Close()
	a.logger.Debug("Pipeline built.", "pipeline", def.Name, "node_count", len(p.Nodes()))

	inputs, err := a.loadRequest(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, buf := range inputs {
			_ = buf.Release()
		}
	}()

	a.logger.Info("🚀 Executing request...", "pipeline", def.Name)
	resp, err := p.Execute(ctx, inputs)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	defer resp.Release()
	a.logger.Info("🏁 Execution finished.", "request", resp.RequestKey, "outputs", len(resp.Outputs))

	return a.writeResponse(resp)
}

// writeResponse prints one line per output tensor in ascending name order.
func (a *App) writeResponse(resp *pipeline.Response) error {
	for _, name := range resp.Names() {
		buf := resp.Outputs[name]
		data, err := buf.Data()
		if err != nil {
			return fmt.Errorf("output %q: %w", name, err)
		}
		line := fmt.Sprintf("%s %s %s", name, buf.Precision(), buf.Shape())
		if values, err := tensor.Decode(buf.Precision(), data); err == nil {
			line += " " + formatValues(values)
		} else {
			line += fmt.Sprintf(" %d bytes", len(data))
		}
		if _, err := fmt.Fprintln(a.outW, line); err != nil {
			return err
		}
	}
	return nil
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
