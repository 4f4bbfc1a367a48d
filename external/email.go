package external

import (
	"context"

	"github.com/rs/zerolog"
)

// EmailProvider sends retention-expiry and account notifications.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailProvider is the default EmailProvider: it logs instead of
// sending, the same "no vendor configured" fallback the teacher uses
// for its analytics sink.
type LogEmailProvider struct {
	log zerolog.Logger
}

func NewLogEmailProvider(log zerolog.Logger) *LogEmailProvider {
	return &LogEmailProvider{log: log}
}

func (p *LogEmailProvider) Name() string { return "log-email" }

func (p *LogEmailProvider) Send(_ context.Context, to, subject, body string) error {
	p.log.Info().Str("to", to).Str("subject", subject).Msg("email send (no provider configured, logging instead)")
	return nil
}

var _ EmailProvider = (*LogEmailProvider)(nil)
