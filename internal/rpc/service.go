// Package rpc exposes account registration and leaderboard subscriptions over
// gRPC. Messages are protobuf well-known types so no generated code is needed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"wordle/server/internal/fanout"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
	"wordle/server/internal/registry"
)

const (
	ServiceName = "wordle.control.v1.Control"

	RegisterMethod    = "/" + ServiceName + "/Register"
	SubscribeMethod   = "/" + ServiceName + "/Subscribe"
	UnsubscribeMethod = "/" + ServiceName + "/Unsubscribe"

	// SubscriberIDHeader names the stream header carrying the subscriber id.
	SubscriberIDHeader = "x-wordle-subscriber-id"
	// EncodingHeader names the stream header carrying the negotiated codec.
	EncodingHeader = "x-wordle-encoding"

	StatusSuccess   = "SUCCESS"
	StatusUserTaken = "USER_TAKEN"
	StatusError     = "ERROR"

	subscriberBuffer = 8
)

// Registrar creates accounts.
type Registrar interface {
	Register(username, password string) error
}

// Hub is the subscriber set fed by leaderboard changes.
type Hub interface {
	Subscribe(sub fanout.Subscriber)
	Unsubscribe(id string) bool
	Snapshot() []leaderboard.Entry
}

// Flusher schedules a snapshot write.
type Flusher interface {
	RequestFlush()
}

// ControlServer is the server API of the control plane.
type ControlServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	Unsubscribe(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// ControlServiceDesc describes the control plane to grpc.Server.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "Unsubscribe", Handler: unsubscribeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "wordle/control/v1/control.proto",
}

// RegisterControlServer attaches srv to s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

func registerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RegisterMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Register(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func unsubscribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Unsubscribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: UnsubscribeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Unsubscribe(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Subscribe(in, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// Option customises the Service.
type Option func(*Service)

// WithRegisterLimit rate limits Register calls. A non-positive rate disables
// limiting.
func WithRegisterLimit(perSecond float64, burst int) Option {
	return func(s *Service) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithFlusher requests a snapshot write after each successful registration.
func WithFlusher(f Flusher) Option {
	return func(s *Service) { s.flusher = f }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements ControlServer.
type Service struct {
	accounts Registrar
	hub      Hub
	flusher  Flusher
	limiter  *rate.Limiter
	logger   *logging.Logger

	mu      sync.Mutex
	streams map[string]*streamSubscriber
}

// NewService wires the control plane to the registry and the fan-out hub.
func NewService(accounts Registrar, hub Hub, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		hub:      hub,
		logger:   logging.L(),
		streams:  make(map[string]*streamSubscriber),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(logging.String("component", "grpc_control"))
	return s
}

// Register creates an account from {username, password}.
func (s *Service) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "registration rate exceeded")
	}
	fields := in.GetFields()
	username := fields["username"].GetStringValue()
	password := fields["password"].GetStringValue()

	err := s.accounts.Register(username, password)
	switch {
	case err == nil:
		s.logger.Info("account registered", logging.String("username", username))
		if s.flusher != nil {
			s.flusher.RequestFlush()
		}
		return registerReply(StatusSuccess, "")
	case errors.Is(err, registry.ErrUserTaken):
		s.logger.Info("registration rejected, username taken", logging.String("username", username))
		return registerReply(StatusUserTaken, err.Error())
	default:
		s.logger.Info("registration rejected", logging.String("username", username), logging.Error(err))
		return registerReply(StatusError, err.Error())
	}
}

func registerReply(code, message string) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{"status": code, "message": message})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

// Subscribe streams top-K leaderboard snapshots until the client leaves or
// calls Unsubscribe. The current snapshot is sent first.
func (s *Service) Subscribe(in *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	compressor, err := LookupCompressor(in.GetValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx := stream.Context()

	//1.- Announce the subscriber id and the codec before any payload.
	sub := newStreamSubscriber(uuid.NewString())
	header := metadata.Pairs(SubscriberIDHeader, sub.id, EncodingHeader, compressor.Name())
	if err := stream.SendHeader(header); err != nil {
		return err
	}

	//2.- Register with the hub and the local index used by Unsubscribe.
	s.mu.Lock()
	s.streams[sub.id] = sub
	s.mu.Unlock()
	s.hub.Subscribe(sub)
	logger := s.logger.With(logging.String("subscriber", sub.id), logging.String("encoding", compressor.Name()))
	logger.Info("leaderboard stream opened")
	defer func() {
		s.hub.Unsubscribe(sub.id)
		s.mu.Lock()
		delete(s.streams, sub.id)
		s.mu.Unlock()
		sub.close()
		logger.Info("leaderboard stream closed")
	}()

	send := func(entries []leaderboard.Entry) error {
		payload, err := EncodeStandings(entries, compressor)
		if err != nil {
			return status.Errorf(codes.Internal, "encode leaderboard: %v", err)
		}
		return stream.Send(wrapperspb.Bytes(payload))
	}

	//3.- Seed with the current top-K, then relay pushes.
	if err := send(s.hub.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case <-sub.done:
			return nil
		case entries := <-sub.updates:
			if err := send(entries); err != nil {
				return err
			}
		}
	}
}

// Unsubscribe ends the stream registered under the given id.
func (s *Service) Unsubscribe(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id := in.GetValue()
	s.mu.Lock()
	sub, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown subscriber %q", id)
	}
	s.hub.Unsubscribe(id)
	sub.close()
	return &emptypb.Empty{}, nil
}

// CloseStreams ends every open subscription so a graceful stop can drain.
func (s *Service) CloseStreams() int {
	s.mu.Lock()
	subs := make([]*streamSubscriber, 0, len(s.streams))
	for id, sub := range s.streams {
		subs = append(subs, sub)
		delete(s.streams, id)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		s.hub.Unsubscribe(sub.id)
		sub.close()
	}
	return len(subs)
}

// Streams returns the number of open subscription streams.
func (s *Service) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// EncodeStandings renders entries as JSON standings compressed with c.
func EncodeStandings(entries []leaderboard.Entry, c Compressor) ([]byte, error) {
	rows := lo.Map(entries, func(e leaderboard.Entry, _ int) protocol.Standing {
		return protocol.Standing{Username: e.Username, Score: e.Score}
	})
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return c.Compress(raw)
}

// DecodeStandings reverses EncodeStandings.
func DecodeStandings(payload []byte, c Compressor) ([]protocol.Standing, error) {
	raw, err := c.Decompress(payload)
	if err != nil {
		return nil, err
	}
	var rows []protocol.Standing
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// streamSubscriber adapts one gRPC stream to the fan-out Subscriber contract.
type streamSubscriber struct {
	id        string
	updates   chan []leaderboard.Entry
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamSubscriber(id string) *streamSubscriber {
	return &streamSubscriber{
		id:      id,
		updates: make(chan []leaderboard.Entry, subscriberBuffer),
		done:    make(chan struct{}),
	}
}

var errStreamClosed = errors.New("rpc: subscriber stream closed")

func (s *streamSubscriber) ID() string { return s.id }

// UpdateLeaderboard queues entries for the stream goroutine. A stream that
// cannot keep up within ctx fails the delivery and gets evicted.
func (s *streamSubscriber) UpdateLeaderboard(ctx context.Context, entries []leaderboard.Entry) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	select {
	case s.updates <- entries:
		return nil
	case <-s.done:
		return errStreamClosed
	case <-ctx.Done():
		s.close()
		return ctx.Err()
	}
}

func (s *streamSubscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

var (
	_ ControlServer     = (*Service)(nil)
	_ fanout.Subscriber = (*streamSubscriber)(nil)
)
