package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/auth"
	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron/extrontest"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "grpc-test-secret-long-enough-for-hs256"

type testEnv struct {
	client   *RouteClient
	switcher *extrontest.Server
	device   *devices.Device
	streamer *EventStreamer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("OMC_GRPC_TEST_JWT", testSecret)
	authService := auth.NewAuthService(config.AuthConfig{JWTSecretEnv: "OMC_GRPC_TEST_JWT"}, zap.NewNop())

	manager, err := devices.NewManager(config.ExtronConfig{
		CommandTimeout:    time.Second,
		LoginTimeout:      time.Second,
		ConnectTimeout:    time.Second,
		SuperviseInterval: time.Hour,
		ReconnectBackoff:  10 * time.Millisecond,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	switcher, err := extrontest.NewServer(4, 2)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { switcher.Close() })

	streamer := NewEventStreamer()
	t.Cleanup(manager.Subscribe(streamer.Publish))

	device, err := manager.AddDevice(types.MatrixDevice{
		Name: "studio", Host: switcher.Host(), Port: switcher.Port(),
		NumInputs: 4, NumOutputs: 2, Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !device.Client.Available() {
		if time.Now().After(deadline) {
			t.Fatal("device never became available")
		}
		time.Sleep(10 * time.Millisecond)
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewRouteService(manager, streamer, zap.NewNop()), authService)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testEnv{client: NewRouteClient(conn), switcher: switcher, device: device, streamer: streamer}
}

func authContext(t *testing.T, ctx context.Context, role string) context.Context {
	t.Helper()
	token, _, err := auth.NewJWTHandler(testSecret, time.Minute).GenerateAccessToken("grpc-user", role)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestGetRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := env.device.Client.SetRoute(ctx, 2, 3, extron.SignalVideo); err != nil {
		t.Fatalf("SetRoute() error = %v", err)
	}

	resp, err := env.client.GetRoutes(authContext(t, ctx, auth.RoleViewer), "studio")
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	fields := resp.GetFields()
	if fields["state"].GetStringValue() != "READY" || fields["stale"].GetBoolValue() {
		t.Errorf("state = %v stale = %v", fields["state"], fields["stale"])
	}
	outputs := fields["outputs"].GetListValue().GetValues()
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outputs))
	}
	second := outputs[1].GetStructValue().GetFields()
	if second["video_input"].GetNumberValue() != 3 {
		t.Errorf("output 2 = %v", second)
	}

	_, err = env.client.GetRoutes(authContext(t, ctx, auth.RoleViewer), "lobby")
	if status.Code(err) != codes.NotFound {
		t.Errorf("GetRoutes(lobby) code = %v, want NotFound", status.Code(err))
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := env.client.GetRoutes(ctx, "studio")
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("GetRoutes() without token code = %v", status.Code(err))
	}

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	stream, err := env.client.StreamRouteChanges(bad, "")
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("stream with bad token code = %v", status.Code(err))
	}
}

func TestStreamRouteChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := env.client.StreamRouteChanges(authContext(t, ctx, auth.RoleViewer), "studio")
	if err != nil {
		t.Fatalf("StreamRouteChanges() error = %v", err)
	}
	first, err := stream.Recv()
	if err != nil || first.GetFields()["type"].GetStringValue() != "subscribed" {
		t.Fatalf("first message = %v, %v", first, err)
	}

	env.switcher.SetRoute(1, 4)

	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	fields := msg.GetFields()
	if fields["type"].GetStringValue() != string(devices.EventRouteChanged) {
		t.Fatalf("type = %v", fields["type"])
	}
	if fields["output"].GetNumberValue() != 1 || fields["input"].GetNumberValue() != 4 ||
		fields["source"].GetStringValue() != string(extron.SourceUnsolicited) {
		t.Errorf("message = %v", fields)
	}
}

func TestStreamUnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := env.client.StreamRouteChanges(authContext(t, ctx, auth.RoleViewer), "lobby")
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.NotFound {
		t.Errorf("code = %v, want NotFound", status.Code(err))
	}
}

func TestEventStreamerFilterAndDrop(t *testing.T) {
	s := NewEventStreamer()
	studio := s.Subscribe("studio")
	all := s.Subscribe("")

	ev := devices.Event{Type: devices.EventDeviceState, DeviceID: uuid.New(), Device: "lobby", State: extron.StateReady}
	s.Publish(ev)

	select {
	case <-studio:
		t.Error("filtered subscriber received another device's event")
	default:
	}
	if got := <-all; got.Device != "lobby" {
		t.Errorf("event device = %q", got.Device)
	}

	for i := 0; i < subscriberBuffer+5; i++ {
		s.Publish(ev)
	}
	if s.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", s.Dropped())
	}

	s.Unsubscribe(all)
	if s.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", s.SubscriberCount())
	}

	s.Close()
	if _, ok := <-studio; ok {
		t.Error("subscription still open after Close")
	}
	if _, ok := <-s.Subscribe(""); ok {
		t.Error("Subscribe after Close returned an open channel")
	}
	// Unsubscribing a closed subscription is harmless.
	s.Unsubscribe(studio)
}

func TestEventToStruct(t *testing.T) {
	msg, err := EventToStruct(devices.Event{
		Type:   devices.EventRouteChanged,
		Device: "studio",
		Change: extron.Change{Output: 2, Previous: 1, Input: 0, Signal: extron.SignalAudio, Source: extron.SourceResync},
	})
	if err != nil {
		t.Fatalf("EventToStruct() error = %v", err)
	}
	f := msg.GetFields()
	if f["signal"].GetStringValue() != "audio" || f["previous_input"].GetNumberValue() != 1 || f["source"].GetStringValue() != "resync" {
		t.Errorf("fields = %v", f)
	}
}
