package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// Client connects to a QuoteFeed server and hands each quote to a callback.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. Extra dial
// options are appended after insecure transport credentials.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	if log == nil {
		log = util.Discard()
	}
	return &Client{
		addr: addr,
		opts: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		log:  log,
	}
}

// Sync streams quotes for the given symbols (all when empty) into fn. It
// blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context, symbols []string, fn func(domain.Quote)) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	req, err := symbolsRequest(symbols)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	cs, err := conn.NewStream(ctx, &quoteFeedDesc.Streams[0], StreamMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.ClientStream.SendMsg(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.ClientStream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to quote feed", "addr", c.addr)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving quote: %w", err)
		}
		q, err := quoteFromStruct(msg)
		if err != nil {
			c.log.Warn("decoding quote", "error", err)
			continue
		}
		fn(q)
	}
}
