package coordinator

// Standalone is the Coordinator for single-node deployments (spec.md §9:
// "a conforming implementation may simplify... to a single always-primary
// node"): this node is trivially primary since nothing else contends for
// the role. Paired with pebblelog in the default deployment shape.
type Standalone struct {
	endpoint string
}

// NewStandalone returns a Coordinator that always reports this node as
// primary, advertising endpoint as its own address.
func NewStandalone(endpoint string) *Standalone {
	return &Standalone{endpoint: endpoint}
}

func (s *Standalone) IsPrimary() bool { return true }

func (s *Standalone) PrimaryEndpoint() (string, bool) { return s.endpoint, true }

// RoleChanges never fires: a standalone node's role never changes.
func (s *Standalone) RoleChanges() <-chan struct{} { return nil }

func (s *Standalone) Close() error { return nil }

var _ Coordinator = (*Standalone)(nil)
