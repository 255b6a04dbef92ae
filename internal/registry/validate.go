package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/ctxlog"
)

// Validate checks that every library and model referenced by the loaded
// pipelines is registered, reporting all mismatches at once.
func (r *Registry) Validate(ctx context.Context, model *config.Model) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for pipelineName, p := range model.Pipelines {
		for _, n := range p.Nodes {
			switch n.Kind {
			case config.KindCustom:
				if n.Library == "" {
					errs = append(errs, fmt.Sprintf("pipeline '%s', node '%s': custom node has no library", pipelineName, n.Name))
				} else if _, ok := r.libraries[n.Library]; !ok {
					errs = append(errs, fmt.Sprintf("pipeline '%s', node '%s': library '%s' is not registered (known: %s)", pipelineName, n.Name, n.Library, strings.Join(r.Libraries(), ", ")))
				}
			case config.KindModel:
				if n.Model == "" {
					errs = append(errs, fmt.Sprintf("pipeline '%s', node '%s': model node has no model", pipelineName, n.Name))
				} else if _, ok := r.models[n.Model]; !ok {
					errs = append(errs, fmt.Sprintf("pipeline '%s', node '%s': model '%s' is not registered (known: %s)", pipelineName, n.Name, n.Model, strings.Join(r.Models(), ", ")))
				}
			default:
				if n.Library != "" || n.Model != "" {
					logger.Warn("Node kind ignores library and model settings.", "pipeline", pipelineName, "node", n.Name, "kind", n.Kind)
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
