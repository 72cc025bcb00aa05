package toolchain

import (
	"context"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/resolve"
	"github.com/phoreus/rpmforge/internal/runtime"
)

// Runs whole pipeline attempts for the scheduler.
type Builder struct {
	cfg         Config
	containers  ContainerProvider
	classifier  *classify.Classifier
	invocations *Invocations
}

// Creates a builder binding the scheduler to the container toolchain.
func NewBuilder(cfg Config, containers ContainerProvider, classifier *classify.Classifier) *Builder {
	return &Builder{
		cfg:         cfg,
		containers:  containers,
		classifier:  classifier,
		invocations: NewInvocations(),
	}
}

// Executes one attempt of one node at the given job count.
//
// Satisfies the scheduler's build contract: every attempt terminates in
// a classified outcome, and the attempt's container is always released.
func (b *Builder) Build(ctx context.Context, node *resolve.Node, jobs int) pipeline.Outcome {
	executor := NewExecutor(node, jobs, b.cfg, b.containers, b.invocations)
	defer executor.Close(ctx)

	return pipeline.New(node.Name, executor, b.classifier).Run(ctx)
}

// Container provider backed by the containerd runtime.
type RuntimeContainers struct {
	RT *runtime.Runtime
}

func (r *RuntimeContainers) Acquire(ctx context.Context, profile, id string) (BuildContainer, error) {
	ctr, err := r.RT.StartContainer(ctx, profile, id, "")
	if err != nil {
		return nil, err
	}
	return ctr, nil
}

func (r *RuntimeContainers) Release(ctx context.Context, id string) {
	r.RT.Container(id).Destroy(ctx)
}
