package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"wordle/server/internal/protocol"
)

// RegisterResult is the decoded Register reply.
type RegisterResult struct {
	Status  string
	Message string
}

// Client wraps the control plane calls over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient returns a client bound to conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password string, opts ...grpc.CallOption) (RegisterResult, error) {
	in, err := structpb.NewStruct(map[string]any{"username": username, "password": password})
	if err != nil {
		return RegisterResult{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RegisterMethod, in, out, opts...); err != nil {
		return RegisterResult{}, err
	}
	fields := out.GetFields()
	return RegisterResult{
		Status:  fields["status"].GetStringValue(),
		Message: fields["message"].GetStringValue(),
	}, nil
}

// Unsubscribe ends the subscription registered under id.
func (c *Client) Unsubscribe(ctx context.Context, id string, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, UnsubscribeMethod, wrapperspb.String(id), new(emptypb.Empty), opts...)
}

// Subscription is an open leaderboard stream.
type Subscription struct {
	ID         string
	Encoding   string
	stream     grpc.ServerStreamingClient[wrapperspb.BytesValue]
	compressor Compressor
}

// Subscribe opens a leaderboard stream using the named codec.
func (c *Client) Subscribe(ctx context.Context, encoding string, opts ...grpc.CallOption) (*Subscription, error) {
	raw, err := c.conn.NewStream(ctx, &ControlServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	stream := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: raw}
	if err := stream.Send(wrapperspb.String(encoding)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	//1.- The header names the subscriber and the codec the server picked.
	header, err := stream.Header()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:       first(header, SubscriberIDHeader),
		Encoding: first(header, EncodingHeader),
		stream:   stream,
	}
	if sub.ID == "" {
		// A stream rejected before its header surfaces the status on Recv.
		if _, err := stream.Recv(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("subscribe: missing %s header", SubscriberIDHeader)
	}
	sub.compressor, err = LookupCompressor(sub.Encoding)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Recv blocks for the next leaderboard snapshot.
func (s *Subscription) Recv() ([]protocol.Standing, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return DecodeStandings(msg.GetValue(), s.compressor)
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
