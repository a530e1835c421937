package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultLeaseTTL = 5 * time.Second
	renewInterval   = defaultLeaseTTL / 3
)

// lease is the value stored under the election key: whoever holds an
// unexpired lease is primary.
type lease struct {
	Endpoint  string    `json:"endpoint"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NATSCoordinator elects a single primary among nodes sharing a NATS
// JetStream KV bucket, using compare-and-swap (KeyValue.Update with the
// last-seen revision) on a single lease key. Grounded on the teacher's
// own KV-bucket setup (get-or-create with retry) in cmd/schemaregistry,
// generalized from a schema/config store to an election lease.
type NATSCoordinator struct {
	kv       nats.KeyValue
	key      string
	endpoint string
	ttl      time.Duration

	mu        sync.RWMutex
	isPrimary bool
	primaryEP string
	revision  uint64

	changes chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Coordinator = (*NATSCoordinator)(nil)

// Open binds to (creating if absent) the named KV bucket and starts the
// lease acquisition loop in the background. endpoint is the address this
// node advertises to replicas once it becomes primary.
func Open(js nats.JetStreamContext, bucket, endpoint string) (*NATSCoordinator, error) {
	kv, err := openElectionBucket(js, bucket)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &NATSCoordinator{
		kv:       kv,
		key:      "primary",
		endpoint: endpoint,
		ttl:      defaultLeaseTTL,
		changes:  make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

func openElectionBucket(js nats.JetStreamContext, name string) (nats.KeyValue, error) {
	const maxRetries = 5
	var kv nats.KeyValue
	var err error
	for i := 0; i < maxRetries; i++ {
		kv, err = js.KeyValue(name)
		if err == nats.ErrBucketNotFound {
			kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
				Bucket:      name,
				Description: "registry primary-election lease",
				Storage:     nats.FileStorage,
				History:     5,
			})
		}
		if err == nil {
			return kv, nil
		}
		if i < maxRetries-1 {
			time.Sleep(time.Second)
		}
	}
	return nil, fmt.Errorf("open coordination bucket %s: %w", name, err)
}

func (c *NATSCoordinator) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	c.tryAcquireOrRenew()
	for {
		select {
		case <-ctx.Done():
			c.release()
			return
		case <-ticker.C:
			c.tryAcquireOrRenew()
		}
	}
}

func (c *NATSCoordinator) tryAcquireOrRenew() {
	now := time.Now()
	entry, err := c.kv.Get(c.key)

	if err == nats.ErrKeyNotFound {
		c.acquire(0, now)
		return
	}
	if err != nil {
		slog.Error("coordinator: read lease", "error", err)
		return
	}

	var l lease
	if err := json.Unmarshal(entry.Value(), &l); err != nil {
		slog.Error("coordinator: decode lease", "error", err)
		return
	}

	c.mu.RLock()
	weHoldIt := c.isPrimary && l.Endpoint == c.endpoint
	c.mu.RUnlock()

	if weHoldIt || now.After(l.ExpiresAt) {
		c.acquire(entry.Revision(), now)
		return
	}

	c.setPrimary(false, l.Endpoint)
}

func (c *NATSCoordinator) acquire(lastRevision uint64, now time.Time) {
	payload, err := json.Marshal(lease{Endpoint: c.endpoint, ExpiresAt: now.Add(c.ttl)})
	if err != nil {
		slog.Error("coordinator: encode lease", "error", err)
		return
	}

	var rev uint64
	if lastRevision == 0 {
		rev, err = c.kv.Create(c.key, payload)
	} else {
		rev, err = c.kv.Update(c.key, payload, lastRevision)
	}
	if err != nil {
		// Lost the race to another node; not an error condition.
		c.setPrimary(false, "")
		return
	}

	c.mu.Lock()
	c.revision = rev
	c.mu.Unlock()
	c.setPrimary(true, c.endpoint)
}

func (c *NATSCoordinator) release() {
	c.mu.RLock()
	isPrimary := c.isPrimary
	rev := c.revision
	c.mu.RUnlock()
	if isPrimary {
		if err := c.kv.Delete(c.key, nats.LastRevision(rev)); err != nil {
			slog.Warn("coordinator: release lease", "error", err)
		}
	}
}

func (c *NATSCoordinator) setPrimary(primary bool, endpoint string) {
	c.mu.Lock()
	changed := c.isPrimary != primary || c.primaryEP != endpoint
	c.isPrimary = primary
	c.primaryEP = endpoint
	c.mu.Unlock()

	if changed {
		select {
		case c.changes <- struct{}{}:
		default:
		}
	}
}

func (c *NATSCoordinator) IsPrimary() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isPrimary
}

func (c *NATSCoordinator) PrimaryEndpoint() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primaryEP, c.primaryEP != ""
}

func (c *NATSCoordinator) RoleChanges() <-chan struct{} { return c.changes }

func (c *NATSCoordinator) Close() error {
	c.cancel()
	<-c.done
	return nil
}
