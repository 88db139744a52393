package workspace

import (
	"context"
	"fmt"

	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Docker is a container-backed Workspace provider stub, grounded on the
// teacher's internal/agent/docker package. It satisfies the Workspace
// contract so projects can bind to it, but the concrete container runtime
// (image pulls, volume mounts) is out of this spec's core scope — see
// DESIGN.md's "Dropped teacher dependencies" — so every operation returns
// an explicit not-implemented error rather than silently doing nothing.
type Docker struct {
	// Image is the container image new workspaces would run in, kept here
	// so a future concrete implementation has a natural place to read it
	// from without changing this type's shape.
	Image string
}

// NewDocker returns a Docker workspace provider bound to image.
func NewDocker(image string) *Docker { return &Docker{Image: image} }

func (d *Docker) Create(ctx context.Context, repoPath, branch, destPath string) error {
	return fmt.Errorf("docker workspace provisioning not implemented (image %q)", d.Image)
}

func (d *Docker) Destroy(ctx context.Context, workspacePath string) error {
	return fmt.Errorf("docker workspace teardown not implemented")
}

func (d *Docker) Clone(ctx context.Context, upstreamRepo, destPath string) error {
	return fmt.Errorf("docker workspace cloning not implemented")
}

var _ plugin.Workspace = (*Docker)(nil)
