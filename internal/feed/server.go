package feed

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"vinsight/internal/domain"
	"vinsight/internal/quote"
	"vinsight/internal/util"
)

// Source publishes quotes. *quote.Scheduler satisfies it.
type Source interface {
	Subscribe(bufSize int) (int, <-chan domain.Quote)
	Unsubscribe(id int)
	State() quote.State
}

var _ Source = (*quote.Scheduler)(nil)

// Server implements the QuoteFeed gRPC service.
type Server struct {
	source Source
	log    *slog.Logger
}

var _ QuoteFeedServer = (*Server)(nil)

// NewServer creates a feed server backed by the given source.
func NewServer(source Source, log *slog.Logger) *Server {
	if log == nil {
		log = util.Discard()
	}
	return &Server{source: source, log: log.With("component", "feed")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	RegisterQuoteFeedServer(gs, s)
}

// Stream sends the latest quote if there is one, then streams every new
// quote as it arrives. The stream ends when the client disconnects or the
// source closes.
func (s *Server) Stream(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	filter := symbolFilter(req)
	send := func(q domain.Quote) error {
		if filter != nil && !filter[q.Symbol] {
			return nil
		}
		msg, err := quoteToStruct(q)
		if err != nil {
			return err
		}
		return stream.Send(msg)
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	subID, ch := s.source.Subscribe(256)
	defer s.source.Unsubscribe(subID)

	if q := s.source.State().Quote; q != nil {
		if err := send(*q); err != nil {
			return err
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID, "symbols", len(filter))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case q, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(q); err != nil {
				return err
			}
		}
	}
}

// ListenAndServe serves the feed on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the feed on an existing listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	s.log.Info("grpc server listening", "addr", ln.Addr().String())
	if err := gs.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
