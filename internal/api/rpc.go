package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	serviceName = "livequiz.v1.GameService"
	codecName   = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the plain Go messages of this package over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

// GameServiceServer is the server API of the game service.
type GameServiceServer interface {
	StartGame(context.Context, *StartGameRequest) (*SessionResponse, error)
	StartQuiz(context.Context, *SessionRequest) (*SessionResponse, error)
	ShowAnswer(context.Context, *SessionRequest) (*SessionResponse, error)
	ShowLeaderboard(context.Context, *SessionRequest) (*SessionResponse, error)
	NextQuestion(context.Context, *SessionRequest) (*SessionResponse, error)
	Skip(context.Context, *SessionRequest) (*SessionResponse, error)
	EndGame(context.Context, *SessionRequest) (*SessionResponse, error)
	DeleteSession(context.Context, *SessionRequest) (*Empty, error)
	GetSession(context.Context, *SessionRequest) (*SessionResponse, error)
	ListSessions(context.Context, *Empty) (*ListSessionsResponse, error)
	Join(context.Context, *JoinRequest) (*JoinResponse, error)
	Leave(context.Context, *PlayerRequest) (*Empty, error)
	Kick(context.Context, *PlayerRequest) (*SessionResponse, error)
	SubmitAnswer(context.Context, *SubmitAnswerRequest) (*SubmitAnswerResponse, error)
	GetLeaderboard(context.Context, *SessionRequest) (*Leaderboard, error)
	WatchSession(*PlayerRequest, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartGame", GameServiceServer.StartGame),
		unary("StartQuiz", GameServiceServer.StartQuiz),
		unary("ShowAnswer", GameServiceServer.ShowAnswer),
		unary("ShowLeaderboard", GameServiceServer.ShowLeaderboard),
		unary("NextQuestion", GameServiceServer.NextQuestion),
		unary("Skip", GameServiceServer.Skip),
		unary("EndGame", GameServiceServer.EndGame),
		unary("DeleteSession", GameServiceServer.DeleteSession),
		unary("GetSession", GameServiceServer.GetSession),
		unary("ListSessions", GameServiceServer.ListSessions),
		unary("Join", GameServiceServer.Join),
		unary("Leave", GameServiceServer.Leave),
		unary("Kick", GameServiceServer.Kick),
		unary("SubmitAnswer", GameServiceServer.SubmitAnswer),
		unary("GetLeaderboard", GameServiceServer.GetLeaderboard),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSession",
			Handler:       watchSessionHandler,
			ServerStreams: true,
		},
	},
	Metadata: "livequiz/v1/game.proto",
}

var watchSessionDesc = &grpc.StreamDesc{
	StreamName:    "WatchSession",
	ServerStreams: true,
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary builds the method descriptor of one unary call.
func unary[Req, Resp any](name string, call func(GameServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			s := srv.(GameServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}

			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

func watchSessionHandler(srv any, stream grpc.ServerStream) error {
	in := new(PlayerRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(GameServiceServer).WatchSession(in, stream)
}
