package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// Target is what workflows and activities are registered on: a worker or a
// test environment.
type Target interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// WorkflowRegistrar defines the interface for registering workflows
type WorkflowRegistrar interface {
	RegisterWorkflows(t Target) error
}

// ActivityRegistrar defines the interface for registering activities
type ActivityRegistrar interface {
	RegisterActivities(t Target) error
}

// Registry combines both workflow and activity registration
type Registry interface {
	WorkflowRegistrar
	ActivityRegistrar
}
