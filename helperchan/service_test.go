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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nestybox/mountbroker/broker"
	"github.com/nestybox/mountbroker/domain"
)

type dialer struct {
	lis *bufconn.Listener
}

func (d dialer) dial(context.Context, string) (net.Conn, error) { return d.lis.Dial() }

func startServer(t *testing.T, b domain.BrokerIface) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterHelperChannelServer(srv, NewService(b))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	d := dialer{lis: lis}
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(d.dial),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })

	return cc
}

type testCaller struct{ token domain.SessionToken }

func (c testCaller) Pid() uint32               { return 1 }
func (c testCaller) Uid() uint32                { return 0 }
func (c testCaller) Gid() uint32                { return 0 }
func (c testCaller) Token() domain.SessionToken { return c.token }

func TestHelperChannelRoundTrip(t *testing.T) {
	b := broker.New(nil)
	cc := startServer(t, b)
	client := NewClient(cc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Trigger(testCaller{}, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := client.TakeNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/home/jdoe", req.Path)

	require.NoError(t, client.Complete(req.ID, 0))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not unblock")
	}
}

func TestHelperChannelPeek(t *testing.T) {
	b := broker.New(nil)
	cc := startServer(t, b)
	client := NewClient(cc)

	go b.Trigger(testCaller{}, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)

	require.Eventually(t, func() bool {
		resp, err := client.Peek(0)
		return err == nil && resp.Path == "/home/jdoe"
	}, 2*time.Second, 10*time.Millisecond)
}
