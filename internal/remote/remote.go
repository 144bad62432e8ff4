// Package remote defines the contracts shared by the bridge's outbound
// clients: the inputs and outputs of remote run creation, and the error
// taxonomy that the dispatch layer's retry and circuit-breaker policies
// are built on. The dispatcher treats every provider the same way; it
// only sees these types, never a concrete wire format.
package remote

import "context"

// RunInput carries everything a provider needs to create a fix run for
// a ticket. RunReference is the bridge's own run ID; providers echo it
// back in the completion callback so the two legs can be correlated.
type RunInput struct {
	RunReference      string
	TicketKey         string
	TicketSummary     string
	TicketDescription string
	TicketURL         string
	Repository        string
	BranchBase        string
	BranchName        string
}

// CreatedRun is the provider's acknowledgement of a created run.
// ProviderRunID is empty for providers that cannot report one (the
// fallback dispatch path acknowledges without an identifier).
type CreatedRun struct {
	ProviderRunID     string
	EstimatedDuration int
}

// RunStatus is a provider's view of a run, as returned by a status poll.
type RunStatus struct {
	ProviderRunID string
	Status        string
	Progress      float64
	CurrentStep   string
	PRURL         string
	PRNumber      int
	BranchName    string
	CommitSHA     string
	Analysis      string
	FilesChanged  []string
	ErrorMessage  string
}

// RunCreator is the capability the dispatcher needs from an execution
// path. The primary provider client and the fallback client both
// implement it; which ones are wired is decided at construction time.
type RunCreator interface {
	// CreateRun asks the provider to start a fix run. It returns the
	// provider's acknowledgement or a classifiable error; it must not
	// retry internally.
	CreateRun(ctx context.Context, input RunInput) (*CreatedRun, error)

	// Name identifies the execution path for logs and metrics.
	Name() string
}

// StatusChecker is the capability needed to poll a run the provider is
// still executing. Only the primary client implements it.
type StatusChecker interface {
	GetRunStatus(ctx context.Context, providerRunID string) (*RunStatus, error)
}

// RunCanceller is the capability needed to abort an in-flight run.
type RunCanceller interface {
	CancelRun(ctx context.Context, providerRunID string) error
}
