package port

import "context"

// Mailer delivers login emails. Template rendering happens behind this
// interface; the core only supplies subject and body.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
