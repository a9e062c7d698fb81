package rapid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/astrolight/internal/monitoring"
	"github.com/banshee-data/astrolight/internal/plasticc"
)

const serviceName = "rapid.v1.Classifier"

const (
	methodLoad    = "/" + serviceName + "/Load"
	methodPredict = "/" + serviceName + "/Predict"
	methodTrain   = "/" + serviceName + "/Train"
)

// Light curve batches are far larger than the 4 MB gRPC default.
const maxMsgSize = 256 * 1024 * 1024

// DialGRPC returns a Dialer for a classifier served at target. Each
// classifier it constructs owns its own connection and asks the server to
// load its model before returning. Connections are plaintext unless opts
// supply transport credentials.
func DialGRPC(target string, opts ...grpc.DialOption) Dialer {
	return func(ctx context.Context, co ClassifierOptions) (Classifier, error) {
		dialOpts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMsgSize),
				grpc.MaxCallSendMsgSize(maxMsgSize),
			),
		}, opts...)
		conn, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create classifier client for %s: %w", target, err)
		}
		c := &grpcClassifier{conn: conn, opts: co}
		req := &structpb.Struct{Fields: map[string]*structpb.Value{fieldOptions: encodeOptions(co)}}
		if err := conn.Invoke(ctx, methodLoad, req, new(structpb.Struct)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to load classifier: %w", err)
		}
		return c, nil
	}
}

type grpcClassifier struct {
	conn *grpc.ClientConn
	opts ClassifierOptions
}

func (c *grpcClassifier) Predict(ctx context.Context, curves []plasticc.LightCurve) ([]Prediction, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOptions: encodeOptions(c.opts),
		fieldCurves:  encodeCurves(curves),
	}}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodPredict, req, resp); err != nil {
		return nil, err
	}
	return decodePredictions(resp)
}

// Train fetches the training data locally and ships it with the request.
func (c *grpcClassifier) Train(ctx context.Context, req TrainRequest) error {
	if req.Fetch == nil {
		return errors.New("train request has no data source")
	}
	curves, labels, err := req.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch training data: %w", err)
	}
	msg := encodeTrain(c.opts, trainMessage{
		curves:       curves,
		labels:       labels,
		classNums:    req.ClassNums,
		passbands:    req.Passbands,
		saveDir:      req.SaveDir,
		saveFilename: req.SaveFilename,
	})
	return c.conn.Invoke(ctx, methodTrain, msg, new(structpb.Struct))
}

func (c *grpcClassifier) Close() error {
	return c.conn.Close()
}

// classifierHandler is the server side of the classifier service.
type classifierHandler interface {
	load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	train(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type classifierService struct {
	dial Dialer
}

// RegisterClassifierService serves classifiers built by dial on s. Every
// request constructs a classifier from the options it carries and closes it
// when the request completes.
func RegisterClassifierService(s *grpc.Server, dial Dialer) {
	s.RegisterService(&classifierServiceDesc, &classifierService{dial: dial})
}

func (svc *classifierService) open(ctx context.Context, req *structpb.Struct) (Classifier, error) {
	c, err := svc.dial(ctx, decodeOptions(req))
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "failed to construct classifier: %v", err)
	}
	return c, nil
}

func (svc *classifierService) load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := svc.open(ctx, req)
	if err != nil {
		return nil, err
	}
	closeClassifier(c)
	return &structpb.Struct{}, nil
}

func (svc *classifierService) predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	curves, err := decodeCurves(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := svc.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer closeClassifier(c)

	preds, err := c.Predict(ctx, curves)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "prediction failed: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPredictions: encodePredictions(preds),
	}}, nil
}

func (svc *classifierService) train(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m, err := decodeTrain(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := svc.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer closeClassifier(c)

	err = c.Train(ctx, TrainRequest{
		Fetch: func(context.Context) ([]plasticc.LightCurve, []int, error) {
			return m.curves, m.labels, nil
		},
		ClassNums:    m.classNums,
		Passbands:    m.passbands,
		SaveDir:      m.saveDir,
		SaveFilename: m.saveFilename,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "training failed: %v", err)
	}
	return &structpb.Struct{}, nil
}

func closeClassifier(c Classifier) {
	if err := c.Close(); err != nil {
		monitoring.Logf("[rapid] failed to close classifier: %v", err)
	}
}

func unaryMethod(name string, call func(classifierHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(classifierHandler)
			if interceptor == nil {
				return call(h, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(h, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*classifierHandler)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Load", classifierHandler.load),
		unaryMethod("Predict", classifierHandler.predict),
		unaryMethod("Train", classifierHandler.train),
	},
}

// Server hosts the classifier service on a listener. The astrolight command
// only dials classifiers; Server is the entry point for programs that embed
// a Go Classifier and expose it to the pipeline over the same methods.
type Server struct {
	server *grpc.Server
	wg     sync.WaitGroup
}

// NewServer returns a server exposing classifiers built by dial.
func NewServer(dial Dialer) *Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterClassifierService(s, dial)
	return &Server{server: s}
}

// Serve accepts connections on lis in the background until Stop.
func (s *Server) Serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[rapid] classifier service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			monitoring.Logf("[rapid] classifier service error: %v", err)
		}
	}()
}

// Stop drains in-flight requests and stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[rapid] classifier service stopped")
}
