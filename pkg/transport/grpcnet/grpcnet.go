// Package grpcnet is the network Transport. Every process runs a small gRPC
// server with a single unary method; a multicast is one call per target,
// issued by a sender goroutine dedicated to that target so that packets to
// the same peer stay in order. Addresses and group membership come from a
// Registry.
package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

// Registry allocates identities and maps them to addresses.
type Registry interface {
	Join(ctx context.Context, group string) (ID, error)
	Register(ctx context.Context, group string, id ID, addr string) error
	Members(ctx context.Context, group string) ([]ID, error)
	Resolve(ctx context.Context, group string, id ID) (string, error)
}

type Config struct {
	ListenAddr    string        // address the gRPC server listens on
	AdvertiseAddr string        // address published to peers, defaults to the listener's
	GroupSize     int           // Subgroup waits for this many members, 0 means no wait
	SendTimeout   time.Duration // bound of one delivery call, default 1s
	QueueSize     int           // packets buffered per destination, default 1024
	PollInterval  time.Duration // registry polling while waiting for the group, default 100ms
	Logger        *zap.Logger
}

func (c *Config) setDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type Transport struct {
	cfg Config
	reg Registry
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	group   string
	self    ID
	box     *transport.Mailbox
	srv     *grpc.Server
	lis     net.Listener
	senders map[ID]*sender
	closed  bool
}

func New(reg Registry, cfg Config) *Transport {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		reg:     reg,
		log:     cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		senders: make(map[ID]*sender),
	}
}

func (t *Transport) Join(ctx context.Context, group string) (ID, error) {
	id, err := t.reg.Join(ctx, group)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.group = group
	t.mu.Unlock()
	return id, nil
}

// Bind starts the gRPC server and publishes its address under id.
func (t *Transport) Bind(ctx context.Context, id ID) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.box != nil {
		t.mu.Unlock()
		return fmt.Errorf("grpcnet: already bound as %v", t.self)
	}
	lis, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("listen %s: %w", t.cfg.ListenAddr, err)
	}
	srv := grpc.NewServer()
	box := transport.NewMailbox()
	srv.RegisterService(&peerServiceDesc, &server{box: box, log: t.log})

	t.self, t.box, t.srv, t.lis = id, box, srv, lis
	group := t.group
	t.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.log.Error("grpc server failed", zap.Error(err))
		}
	}()

	addr := t.cfg.AdvertiseAddr
	if addr == "" {
		addr = lis.Addr().String()
	}
	if err := t.reg.Register(ctx, group, id, addr); err != nil {
		return fmt.Errorf("register %v at %s: %w", id, addr, err)
	}
	t.log.Info("bound", zap.Stringer("pid", id), zap.String("addr", addr))
	return nil
}

// Addr returns the listener address once bound.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lis == nil {
		return nil
	}
	return t.lis.Addr()
}

// Subgroup returns the members of group, waiting until at least GroupSize
// of them have registered.
func (t *Transport) Subgroup(ctx context.Context, group string) ([]ID, error) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ids, err := t.reg.Members(ctx, group)
		if err != nil {
			return nil, err
		}
		if len(ids) >= t.cfg.GroupSize {
			return ids, nil
		}
		t.log.Debug("waiting for group", zap.String("group", group), zap.Int("have", len(ids)), zap.Int("want", t.cfg.GroupSize))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", group, ctx.Err())
		}
	}
}

// SendTo hands payload to the sender of every target. It does not wait for
// delivery; a full queue drops the packet.
func (t *Transport) SendTo(_ context.Context, targets []ID, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return transport.ErrClosed
	case t.box == nil:
		return transport.ErrNotBound
	}

	for _, to := range targets {
		s, ok := t.senders[to]
		if !ok {
			s = &sender{to: to, queue: make(chan []byte, t.cfg.QueueSize)}
			t.senders[to] = s
			t.wg.Add(1)
			go t.run(s, t.self, t.group)
		}
		select {
		case s.queue <- payload:
		default:
			t.log.Warn("send queue full, dropping packet", zap.Stringer("to", to))
		}
	}
	return nil
}

func (t *Transport) ReceiveFrom(ctx context.Context, sources []ID, timeout time.Duration) (transport.Packet, bool, error) {
	t.mu.Lock()
	box, closed := t.box, t.closed
	t.mu.Unlock()
	switch {
	case closed:
		return transport.Packet{}, false, transport.ErrClosed
	case box == nil:
		return transport.Packet{}, false, transport.ErrNotBound
	}
	return box.Take(ctx, sources, timeout)
}

// Close stops the server and every sender. Packets still queued are lost.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	srv, box := t.srv, t.box
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	if srv != nil {
		srv.Stop()
	}
	if box != nil {
		box.Close()
	}
	return nil
}

type sender struct {
	to    ID
	queue chan []byte
}

// run delivers s's packets one call at a time until the transport closes.
func (t *Transport) run(s *sender, self ID, group string) {
	defer t.wg.Done()
	log := t.log.With(zap.Stringer("to", s.to))
	ctx := metadata.AppendToOutgoingContext(t.ctx, fromKey, strconv.FormatUint(uint64(self), 10))

	var conn *grpc.ClientConn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var payload []byte
		select {
		case <-t.ctx.Done():
			return
		case payload = <-s.queue:
		}

		if conn == nil {
			addr, err := t.reg.Resolve(ctx, group, s.to)
			if err != nil {
				log.Warn("cannot resolve peer, dropping packet", zap.Error(err))
				continue
			}
			conn, err = grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				log.Warn("dial failed, dropping packet", zap.String("addr", addr), zap.Error(err))
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
		err := conn.Invoke(callCtx, deliverMethod, wrapperspb.Bytes(payload), new(emptypb.Empty))
		cancel()
		if err != nil && t.ctx.Err() == nil {
			log.Debug("delivery failed", zap.Error(err))
		}
	}
}

const (
	fromKey       = "x-zm-from"
	deliverMethod = "/zephyrmutex.Peer/Deliver"
)

type peerServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// server receives packets into the mailbox read by ReceiveFrom.
type server struct {
	box *transport.Mailbox
	log *zap.Logger
}

func (s *server) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(fromKey)
	if len(vals) != 1 {
		return nil, status.Error(codes.InvalidArgument, "missing sender id")
	}
	from, err := transport.ParseID(vals[0])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.box.Put(transport.Packet{From: from, Payload: in.GetValue()})
	return &emptypb.Empty{}, nil
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(peerServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: "zephyrmutex.Peer",
	HandlerType: (*peerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zephyrmutex/peer.proto",
}
