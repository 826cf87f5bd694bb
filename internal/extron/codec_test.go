package extron

import (
	"testing"
)

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{TieCommand{Input: 3, Output: 1}, "3*1!\r\n"},
		{TieCommand{Input: 0, Output: 8}, "0*8!\r\n"},
		{TieCommand{Input: 12, Output: 16}, "12*16!\r\n"},
		{StatusCommand{Output: 2}, "2%\r\n"},
		{InfoCommand{}, "I\r\n"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd.Encode()); got != tt.want {
			t.Errorf("%s.Encode() = %q, want %q", tt.cmd, got, tt.want)
		}
	}

	if got := string(EncodePassword("admin")); got != "admin\r\n" {
		t.Errorf("EncodePassword() = %q", got)
	}
}

func TestTieCommandResolve(t *testing.T) {
	cmd := TieCommand{Input: 3, Output: 1}

	tests := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"matching ack", CommandAck{Output: 1, Input: 3}, true},
		{"other output", CommandAck{Output: 2, Input: 3}, false},
		{"other input", CommandAck{Output: 1, Input: 2}, false},
		{"breakaway", UnsolicitedTieChange{Output: 1, Input: 3, Signal: SignalVideo}, false},
		{"status", RouteStatus{Input: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := cmd.Resolve(tt.ev); ok != tt.ok {
				t.Errorf("Resolve() ok = %v, want %v", ok, tt.ok)
			}
		})
	}
}

func TestStatusCommandResolve(t *testing.T) {
	cmd := StatusCommand{Output: 2}

	tests := []struct {
		name  string
		ev    Event
		want  int
		match bool
	}{
		{"bare number", RouteStatus{Input: 4}, 4, true},
		{"tagged answer", CommandAck{Output: 2, Input: 1}, 1, true},
		{"tagged other output", CommandAck{Output: 3, Input: 1}, 0, false},
		{"tagged video answer", UnsolicitedTieChange{Output: 2, Input: 3, Signal: SignalVideo}, 3, true},
		{"tagged video other output", UnsolicitedTieChange{Output: 1, Input: 3, Signal: SignalVideo}, 0, false},
		{"audio breakaway", UnsolicitedTieChange{Output: 2, Input: 1, Signal: SignalAudio}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := cmd.Resolve(tt.ev)
			if ok != tt.match {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.match)
			}
			if ok && v.(int) != tt.want {
				t.Errorf("Resolve() = %v, want %d", v, tt.want)
			}
		})
	}
}
