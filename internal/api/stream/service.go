package stream

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type RouteService struct {
	manager  *devices.Manager
	streamer *EventStreamer
	logger   *zap.Logger
}

func NewRouteService(manager *devices.Manager, streamer *EventStreamer, logger *zap.Logger) *RouteService {
	return &RouteService{
		manager:  manager,
		streamer: streamer,
		logger:   logger,
	}
}

func (s *RouteService) GetRoutes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["device"].GetStringValue()
	device, ok := s.manager.GetDeviceByName(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "device %q not found", name)
	}

	snap := device.Client.Snapshot()
	outputs := make([]any, 0, device.Definition.NumOutputs)
	for n := 1; n <= device.Definition.NumOutputs; n++ {
		outputs = append(outputs, map[string]any{
			"output":      n,
			"video_input": snap[extron.Tie{Output: n, Signal: extron.SignalVideo}],
			"audio_input": snap[extron.Tie{Output: n, Signal: extron.SignalAudio}],
		})
	}

	resp, err := structpb.NewStruct(map[string]any{
		"device":  name,
		"state":   device.Client.State().String(),
		"stale":   device.Client.Stale(),
		"outputs": outputs,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode routes: %v", err)
	}
	return resp, nil
}

func (s *RouteService) StreamRouteChanges(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	name := req.GetFields()["device"].GetStringValue()
	if name != "" {
		if _, ok := s.manager.GetDeviceByName(name); !ok {
			return status.Errorf(codes.NotFound, "device %q not found", name)
		}
	}

	eventCh := s.streamer.Subscribe(name)
	defer s.streamer.Unsubscribe(eventCh)

	hello, _ := structpb.NewStruct(map[string]any{
		"type":      "subscribed",
		"device":    name,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err := stream.Send(hello); err != nil {
		return err
	}

	s.logger.Debug("Route stream opened", zap.String("device", name))

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			msg, err := EventToStruct(event)
			if err != nil {
				s.logger.Error("Failed to encode event", zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// EventToStruct encodes a device event as a stream message.
func EventToStruct(ev devices.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":      string(ev.Type),
		"device":    ev.Device,
		"device_id": ev.DeviceID.String(),
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	switch ev.Type {
	case devices.EventRouteChanged:
		fields["output"] = ev.Change.Output
		fields["signal"] = string(ev.Change.Signal)
		fields["previous_input"] = ev.Change.Previous
		fields["input"] = ev.Change.Input
		fields["source"] = string(ev.Change.Source)
	case devices.EventDeviceState:
		fields["state"] = ev.State.String()
	}

	return structpb.NewStruct(fields)
}
