package authority

import (
	"context"

	"github.com/danmuck/universe/internal/universe"
)

// Provisioner prepares the Responder's resources during initialize.
type Provisioner interface {
	Provision(ctx context.Context) (universe.Capabilities, error)
}

// ProvisionFunc adapts a function to Provisioner.
type ProvisionFunc func(ctx context.Context) (universe.Capabilities, error)

func (f ProvisionFunc) Provision(ctx context.Context) (universe.Capabilities, error) {
	return f(ctx)
}

// NoResources provisions nothing and always succeeds.
var NoResources Provisioner = ProvisionFunc(func(context.Context) (universe.Capabilities, error) {
	return universe.Capabilities{}, nil
})
