package backend

import (
	"fmt"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// Checker gates dispatch on task-type compatibility. Services implementing TaskTypePolicy decide
// for themselves; everyone else gets "any or same".
type Checker struct{}

func (Checker) IsCompatible(svc Service, model inference.Model, requested inference.TaskType) bool {
	if p, ok := svc.(TaskTypePolicy); ok {
		return p.AcceptsTaskType(model, requested)
	}
	return requested.IsAnyOrSame(model.TaskType)
}

func (Checker) Explain(svc Service, model inference.Model, requested inference.TaskType) string {
	if p, ok := svc.(TaskTypePolicy); ok {
		if msg := p.ExplainIncompatibility(model, requested); msg != "" {
			return msg
		}
	}
	return DefaultExplanation(model, requested)
}

func DefaultExplanation(model inference.Model, requested inference.TaskType) string {
	return fmt.Sprintf("Incompatible task_type, the requested type [%s] does not match the inference endpoint type [%s]",
		requested, model.TaskType)
}
