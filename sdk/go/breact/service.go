package breact

import (
	"context"
	"strings"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/job"
)

// Service is a façade bound to one remote service.
type Service interface {
	ID() string
	Descriptor() ServiceDescriptor
	Execute(ctx context.Context, endpoint string, params map[string]any) (job.Result, error)
}

// ServiceFactory builds a custom façade around the generic one. The client
// calls it at most once per id until the binding is replaced.
type ServiceFactory func(base *BaseService) Service

// BaseService is the generic façade. It holds no state beyond its id, the
// descriptor it was built with and the owning client, and is safe for
// concurrent use.
type BaseService struct {
	id     string
	bound  ServiceDescriptor
	client *Client
}

// ID returns the remote service id.
func (s *BaseService) ID() string { return s.id }

// Client returns the owning client.
func (s *BaseService) Client() *Client { return s.client }

// Descriptor returns the service's entry in the client's current catalog, or
// the descriptor the façade was built with when the service is no longer
// listed.
func (s *BaseService) Descriptor() ServiceDescriptor {
	if d, ok := s.client.catalog.Load().lookup(s.id); ok {
		return d
	}
	return s.bound
}

// Execute validates endpoint and params against the current descriptor and
// runs the job to completion. Validation failures never reach the network.
func (s *BaseService) Execute(ctx context.Context, endpoint string, params map[string]any) (job.Result, error) {
	if err := s.client.ensureOpen(); err != nil {
		return job.Result{}, err
	}
	schema, ok := s.Descriptor().Endpoint(endpoint)
	if !ok {
		return job.Result{}, xerrors.New(xerrors.CodeEndpointNotFound,
			"service "+s.id+" has no endpoint "+endpoint,
			xerrors.WithMetadata("service_id", s.id),
			xerrors.WithMetadata("endpoint", endpoint))
	}
	if missing := missingParameters(schema, params); len(missing) > 0 {
		return job.Result{}, xerrors.New(xerrors.CodeInvalidArgument,
			s.id+"/"+endpoint+" requires "+strings.Join(missing, ", "),
			xerrors.WithMetadata("service_id", s.id),
			xerrors.WithMetadata("endpoint", endpoint))
	}
	return s.client.execute(ctx, s.id, endpoint, params)
}

func missingParameters(schema EndpointSchema, params map[string]any) []string {
	var missing []string
	for _, name := range schema.RequiredParameters() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
