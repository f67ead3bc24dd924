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

var _ domain.HelperChannelIface = (*Client)(nil)

// Client is the helper-side stub of the channel (component C5): it calls
// take_next/complete/peek over a real *grpc.ClientConn. brokerctl's hsmq
// command uses it to reach a running daemon.
type Client struct {
	cc *grpc.ClientConn
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) TakeNext(ctx context.Context) (domain.WireRequest, error) {
	out := new(domain.WireRequest)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/TakeNext", &empty{}, out, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return domain.WireRequest{}, err
	}
	return *out, nil
}

func (c *Client) Complete(id uint32, errCode int32) error {
	out := new(empty)
	return c.cc.Invoke(context.Background(), "/"+serviceName+"/Complete", &domain.WireDone{ID: id, Error: errCode}, out, grpc.CallContentSubtype(jsonCodecName))
}

func (c *Client) Peek(cursorIn uint32) (domain.WirePeekResponse, error) {
	out := new(domain.WirePeekResponse)
	err := c.cc.Invoke(context.Background(), "/"+serviceName+"/Peek", &domain.WirePeekRequest{CursorIn: cursorIn}, out, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return domain.WirePeekResponse{}, err
	}
	return *out, nil
}
