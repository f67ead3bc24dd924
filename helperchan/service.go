//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package helperchan

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nestybox/mountbroker/domain"
)

const serviceName = "mountbroker.HelperChannel"

// empty is the zero-payload request/response for TakeNext's "give me
// one" call (spec §6.2).
type empty struct{}

var _ domain.HelperChannelIface = (*Service)(nil)

// Service is the grpc-side adapter of a domain.BrokerIface: it satisfies
// domain.HelperChannelIface by delegating each RPC straight to the
// broker, so the broker package itself never imports grpc.
type Service struct {
	broker domain.BrokerIface
}

func NewService(b domain.BrokerIface) *Service {
	return &Service{broker: b}
}

func (s *Service) TakeNext(ctx context.Context) (domain.WireRequest, error) {
	desc, err := s.broker.TakeNext(ctx)
	if err != nil {
		return domain.WireRequest{}, err
	}
	return domain.WireRequest{
		ID:      desc.ID,
		Type:    desc.Type,
		From:    desc.From,
		Path:    desc.Path,
		Prefix:   desc.Prefix,
		Key:      desc.Key,
		Location: desc.Location,
		Options:  desc.Options,
	}, nil
}

func (s *Service) Complete(id uint32, errCode int32) error {
	var err error
	if domain.Errno(errCode) != domain.ErrNone {
		err = domain.Errno(errCode)
	}
	s.broker.Complete(id, err)
	return nil
}

func (s *Service) Peek(cursorIn uint32) (domain.WirePeekResponse, error) {
	desc, next, ok := s.broker.Peek(cursorIn)
	if !ok {
		return domain.WirePeekResponse{}, domain.ErrNodeNotFound
	}
	return domain.WirePeekResponse{
		ID:         desc.ID,
		NextCursor: next,
		Done:       desc.Done,
		InProgress: desc.InProgress,
		Type:       desc.Type,
		Path:       desc.Path,
	}, nil
}

// RegisterHelperChannelServer registers srv's implementation of
// domain.HelperChannelIface against a real *grpc.Server.
func RegisterHelperChannelServer(s *grpc.Server, srv domain.HelperChannelIface) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would generate for a HelperChannel service exposing TakeNext, Complete
// and Peek as unary RPCs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*domain.HelperChannelIface)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TakeNext", Handler: takeNextHandler},
		{MethodName: "Complete", Handler: completeHandler},
		{MethodName: "Peek", Handler: peekHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "helperchan.proto",
}

func takeNextHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		return srv.(domain.HelperChannelIface).TakeNext(ctx)
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/TakeNext"}
	return interceptor(ctx, in, info, run)
}

func completeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(domain.WireDone)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req interface{}) (interface{}, error) {
		wd := req.(*domain.WireDone)
		return &empty{}, srv.(domain.HelperChannelIface).Complete(wd.ID, wd.Error)
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Complete"}
	return interceptor(ctx, in, info, run)
}

func peekHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(domain.WirePeekRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req interface{}) (interface{}, error) {
		pr := req.(*domain.WirePeekRequest)
		return srv.(domain.HelperChannelIface).Peek(pr.CursorIn)
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Peek"}
	return interceptor(ctx, in, info, run)
}
