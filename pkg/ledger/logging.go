package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	ProviderID    ProviderID
	TransactionID TransactionID
	GameID        GameID
	RoundID       RoundID
	UserID        UserID
	Currency      Currency
	Reference     Reference
	Amount        AmountCents
	Attempts      int
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithConflictRetry retries whole operations that fail with ErrConcurrentModification.
func WithConflictRetry(policy RetryPolicy) ServiceOption {
	return func(service *Service) {
		service.retryPolicy = policy
	}
}

// WithIDGenerator overrides the generator used for entry, order and event ids.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
