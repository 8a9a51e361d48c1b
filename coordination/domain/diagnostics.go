package domain

// DiagnosticSink recebe violações de invariantes de concorrência
// (ex.: contagem de pacote divergente, release duplicado).
//
// Implementações decidem a política: logar e seguir (produção) ou abortar
// (builds de verificação). Nunca deve bloquear.
type DiagnosticSink interface {
	ReportInvariantViolation(message string, fields map[string]any)
}

// SinkFunc adapta uma função para DiagnosticSink.
type SinkFunc func(message string, fields map[string]any)

func (f SinkFunc) ReportInvariantViolation(message string, fields map[string]any) {
	f(message, fields)
}
