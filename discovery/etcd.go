// Package discovery keeps process groups in etcd. Identities are etcd
// revisions, so they are unique and grow with join order; membership is a
// set of lease-bound keys that vanish when a process stops refreshing them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

var ErrUnknownMember = errors.New("discovery: unknown member")

const root = "/zephyrmutex"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Etcd is a group registry backed by an etcd cluster.
type Etcd struct {
	cli *clientv3.Client
	ttl int64
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	leases []clientv3.LeaseID
}

// NewEtcd wraps cli. Registrations live on leases of ttl seconds.
func NewEtcd(cli *clientv3.Client, ttl int64, log *zap.Logger) *Etcd {
	if ttl <= 0 {
		ttl = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Etcd{cli: cli, ttl: ttl, log: log, ctx: ctx, cancel: cancel}
}

// Join allocates a fresh identity in group.
func (e *Etcd) Join(ctx context.Context, group string) (ID, error) {
	resp, err := e.cli.Put(ctx, joinKey(group), "")
	if err != nil {
		return 0, fmt.Errorf("join %s: %w", group, err)
	}
	return ID(resp.Header.Revision), nil
}

// Register publishes addr under id and keeps it alive until Close.
func (e *Etcd) Register(ctx context.Context, group string, id ID, addr string) error {
	lease, err := e.cli.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := e.cli.Put(ctx, memberKey(group, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("register %v: %w", id, err)
	}

	ch, err := e.cli.KeepAlive(e.ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive %v: %w", id, err)
	}
	go func() {
		for range ch {
		}
		if e.ctx.Err() == nil {
			e.log.Warn("lease keepalive stopped", zap.Stringer("pid", id))
		}
	}()

	e.mu.Lock()
	e.leases = append(e.leases, lease.ID)
	e.mu.Unlock()
	return nil
}

// Members returns the registered ids of group, sorted.
func (e *Etcd) Members(ctx context.Context, group string) ([]ID, error) {
	resp, err := e.cli.Get(ctx, membersPrefix(group), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", group, err)
	}
	ids := make([]ID, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := parseMemberKey(group, string(kv.Key))
		if err != nil {
			e.log.Warn("skipping member key", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Resolve returns the address id registered.
func (e *Etcd) Resolve(ctx context.Context, group string, id ID) (string, error) {
	resp, err := e.cli.Get(ctx, memberKey(group, id))
	if err != nil {
		return "", fmt.Errorf("resolve %v: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %v", ErrUnknownMember, id)
	}
	return string(resp.Kvs[0].Value), nil
}

type EventType uint8

const (
	MemberJoined EventType = iota + 1
	MemberLeft
)

func (t EventType) String() string {
	switch t {
	case MemberJoined:
		return "joined"
	case MemberLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event is a membership change seen by Watch.
type Event struct {
	Type EventType
	ID   ID
	Addr string
}

// Watch streams membership changes of group until ctx is done.
func (e *Etcd) Watch(ctx context.Context, group string) <-chan Event {
	out := make(chan Event)
	wch := e.cli.Watch(ctx, membersPrefix(group), clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				e.log.Warn("watch failed", zap.String("group", group), zap.Error(err))
				return
			}
			for _, ev := range resp.Events {
				id, err := parseMemberKey(group, string(ev.Kv.Key))
				if err != nil {
					continue
				}
				event := Event{ID: id, Addr: string(ev.Kv.Value)}
				switch ev.Type {
				case mvccpb.PUT:
					event.Type = MemberJoined
				case mvccpb.DELETE:
					event.Type = MemberLeft
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close revokes every lease so that peers see the registrations go at once.
func (e *Etcd) Close() error {
	e.cancel()
	e.mu.Lock()
	leases := e.leases
	e.leases = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var errs []error
	for _, id := range leases {
		if _, err := e.cli.Revoke(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("revoke lease %x: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func joinKey(group string) string {
	return path.Join(root, group, "join")
}

func membersPrefix(group string) string {
	return path.Join(root, group, "members") + "/"
}

func memberKey(group string, id ID) string {
	return fmt.Sprintf("%s%d", membersPrefix(group), uint64(id))
}

func parseMemberKey(group, key string) (ID, error) {
	rest, ok := strings.CutPrefix(key, membersPrefix(group))
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, fmt.Errorf("not a member key of %s: %q", group, key)
	}
	return transport.ParseID(rest)
}
