package extron

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func collect(d *Decoder) []Event {
	var events []Event
	for ev := range d.Events() {
		events = append(events, ev)
	}
	return events
}

func TestDecoderClassifiesLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"ack", "Out1 In3 All", CommandAck{Output: 1, Input: 3}},
		{"ack zero padded", "Out02 In04 All", CommandAck{Output: 2, Input: 4}},
		{"ack without spaces", "Out12In7All", CommandAck{Output: 12, Input: 7}},
		{"ack clear", "Out3 In0 All", CommandAck{Output: 3, Input: 0}},
		{"video breakaway", "Out2 In1 Vid", UnsolicitedTieChange{Output: 2, Input: 1, Signal: SignalVideo}},
		{"audio breakaway", "Out2 In1 Aud", UnsolicitedTieChange{Output: 2, Input: 1, Signal: SignalAudio}},
		{"error", "E12", &DeviceError{Code: CodeInvalidOutput}},
		{"unknown error code", "E99", &DeviceError{Code: 99}},
		{"status", "3", RouteStatus{Input: 3}},
		{"status zero", "0", RouteStatus{Input: 0}},
		{"info", "V8X4 A8X4", InfoReport{VideoInputs: 8, VideoOutputs: 4, AudioInputs: 8, AudioOutputs: 4}},
		{"login admin", "Login Administrator", LoginAccepted{Level: "Administrator"}},
		{"login user", "Login User", LoginAccepted{Level: "User"}},
		{"copyright", "(c) Copyright 2015, Extron Electronics, DXP 44 HD 4K, V1.02", Banner{Text: "(c) Copyright 2015, Extron Electronics, DXP 44 HD 4K, V1.02"}},
		{"date", "Tue, 14 Nov 2023 08:00:01", Banner{Text: "Tue, 14 Nov 2023 08:00:01"}},
		{"garbage", "Reconfig", Unparseable{Raw: "Reconfig"}},
		{"half ack", "Out1 In", Unparseable{Raw: "Out1 In"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			if err := d.Feed([]byte(tt.line + "\r\n")); err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			got := collect(d)
			if len(got) != 1 {
				t.Fatalf("events = %#v, want one", got)
			}
			if !reflect.DeepEqual(got[0], tt.want) {
				t.Errorf("event = %#v, want %#v", got[0], tt.want)
			}
		})
	}
}

func TestDecoderBuffersPartialLines(t *testing.T) {
	d := NewDecoder()

	d.Feed([]byte("Out1 In"))
	if got := collect(d); len(got) != 0 {
		t.Fatalf("events after partial line = %#v", got)
	}

	d.Feed([]byte("3 All\r"))
	if got := collect(d); len(got) != 0 {
		t.Fatalf("events before LF = %#v", got)
	}

	d.Feed([]byte("\n\r\nOut2 In1 All\r\n"))
	want := []Event{CommandAck{Output: 1, Input: 3}, CommandAck{Output: 2, Input: 1}}
	if got := collect(d); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestDecoderLoginPrompt(t *testing.T) {
	d := NewDecoder()

	// Devices send the prompt without a terminator.
	d.Feed([]byte("(c) Copyright 2015, Extron Electronics\r\nPassword:"))
	got := collect(d)
	if len(got) != 2 {
		t.Fatalf("events = %#v, want banner and prompt", got)
	}
	if _, ok := got[1].(LoginPrompt); !ok {
		t.Fatalf("second event = %#v, want LoginPrompt", got[1])
	}

	d.Feed([]byte("\r\nPassword:"))
	if got := collect(d); len(got) != 1 || got[0] != (LoginRejected{}) {
		t.Errorf("repeat prompt events = %#v, want LoginRejected", got)
	}
}

func TestDecoderPromptAfterLogin(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("Password:\r\nLogin User\r\nPassword:"))

	want := []Event{LoginPrompt{}, LoginAccepted{Level: "User"}, LoginPrompt{}}
	if got := collect(d); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestDecoderStopKeepsRemainingLines(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("1\r\n2\r\n"))

	for ev := range d.Events() {
		if ev != (RouteStatus{Input: 1}) {
			t.Fatalf("first event = %#v", ev)
		}
		break
	}

	if got := collect(d); len(got) != 1 || got[0] != (RouteStatus{Input: 2}) {
		t.Errorf("remaining events = %#v, want status 2", got)
	}
}

func TestDecoderLineTooLong(t *testing.T) {
	d := NewDecoder()
	if err := d.Feed([]byte(strings.Repeat("a", MaxLineLength))); err != nil {
		t.Fatalf("Feed() at limit error = %v", err)
	}
	if err := d.Feed([]byte("a")); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Feed() over limit error = %v, want ErrLineTooLong", err)
	}

	// Terminated long input is fine.
	d.Reset()
	if err := d.Feed([]byte(strings.Repeat("a", MaxLineLength+10) + "\r\n")); err != nil {
		t.Errorf("Feed() terminated error = %v", err)
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("Password:"))
	collect(d)
	d.Feed([]byte("Out1"))

	d.Reset()
	d.Feed([]byte("Password:"))
	if got := collect(d); len(got) != 1 || got[0] != (LoginPrompt{}) {
		t.Errorf("events after reset = %#v, want LoginPrompt", got)
	}
}
