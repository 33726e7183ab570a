package schema

import "fmt"

// DeclarationError reports an invalid model declaration: reserved or
// duplicate field names, unique groups referencing unknown columns, or a
// model kind that cannot be migrated. It is raised when a model is described
// and never reaches the migration engine.
type DeclarationError struct {
	Model  string
	Reason string
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("model %s: %s", e.Model, e.Reason)
}

func declErr(model, format string, args ...any) error {
	return &DeclarationError{Model: model, Reason: fmt.Sprintf(format, args...)}
}
