package extron

import (
	"bytes"
	"iter"
	"regexp"
	"strconv"
	"strings"
)

const passwordPrompt = "Password:"

// Line rules, tried in this order after the login prompt check.
var (
	loginAcceptedPattern = regexp.MustCompile(`^Login\s+(Administrator|User)$`)
	ackPattern           = regexp.MustCompile(`(?i)^Out\s*(\d+)\s*In\s*(\d+)\s*All$`)
	unsolicitedPattern   = regexp.MustCompile(`(?i)^Out\s*(\d+)\s*In\s*(\d+)\s*(Vid|Aud)$`)
	errorPattern         = regexp.MustCompile(`^E(\d{2})$`)
	statusPattern        = regexp.MustCompile(`^(\d{1,4})$`)
	infoPattern          = regexp.MustCompile(`^V(\d+)X(\d+)\s+A(\d+)X(\d+)$`)
	bannerPattern        = regexp.MustCompile(`^\([cC]\)\s*Copyright|^(Mon|Tue|Wed|Thu|Fri|Sat|Sun), `)
)

// Decoder turns the inbound byte stream of one connection into events.
// It is not safe for concurrent use; Reset it when a new connection starts.
type Decoder struct {
	buf []byte

	// prompted is set once a login prompt was decoded and cleared by a
	// login confirmation; a second prompt in between is a rejection.
	prompted bool
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 256)}
}

// Reset drops buffered bytes and login tracking.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.prompted = false
}

// Feed appends raw bytes. It fails with ErrLineTooLong when the unterminated
// tail grows beyond MaxLineLength.
func (d *Decoder) Feed(p []byte) error {
	d.buf = append(d.buf, p...)

	tail := len(d.buf) - (bytes.LastIndexByte(d.buf, '\n') + 1)
	if tail > MaxLineLength {
		return ErrLineTooLong
	}
	return nil
}

// Events yields one event per complete line currently buffered. Lines not
// consumed because the caller stopped early stay buffered.
func (d *Decoder) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			i := bytes.IndexByte(d.buf, '\n')
			if i < 0 {
				// The prompt arrives without a terminator.
				if strings.TrimSpace(string(d.buf)) == passwordPrompt {
					d.buf = d.buf[:0]
					yield(d.prompt())
				}
				return
			}

			line := strings.TrimSpace(string(d.buf[:i]))
			n := copy(d.buf, d.buf[i+1:])
			d.buf = d.buf[:n]

			if line == "" {
				continue
			}
			if !yield(d.classify(line)) {
				return
			}
		}
	}
}

func (d *Decoder) prompt() Event {
	if d.prompted {
		return LoginRejected{}
	}
	d.prompted = true
	return LoginPrompt{}
}

func (d *Decoder) classify(line string) Event {
	if line == passwordPrompt {
		return d.prompt()
	}

	if m := loginAcceptedPattern.FindStringSubmatch(line); m != nil {
		d.prompted = false
		return LoginAccepted{Level: m[1]}
	}

	if m := ackPattern.FindStringSubmatch(line); m != nil {
		if out, in, ok := atoi2(m[1], m[2]); ok {
			return CommandAck{Output: out, Input: in}
		}
	}

	if m := unsolicitedPattern.FindStringSubmatch(line); m != nil {
		if out, in, ok := atoi2(m[1], m[2]); ok {
			signal := SignalVideo
			if strings.EqualFold(m[3], "Aud") {
				signal = SignalAudio
			}
			return UnsolicitedTieChange{Output: out, Input: in, Signal: signal}
		}
	}

	if m := errorPattern.FindStringSubmatch(line); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &DeviceError{Code: ErrorCode(code)}
	}

	if m := statusPattern.FindStringSubmatch(line); m != nil {
		in, _ := strconv.Atoi(m[1])
		return RouteStatus{Input: in}
	}

	if m := infoPattern.FindStringSubmatch(line); m != nil {
		vi, vo, ok1 := atoi2(m[1], m[2])
		ai, ao, ok2 := atoi2(m[3], m[4])
		if ok1 && ok2 {
			return InfoReport{VideoInputs: vi, VideoOutputs: vo, AudioInputs: ai, AudioOutputs: ao}
		}
	}

	if bannerPattern.MatchString(line) {
		return Banner{Text: line}
	}

	return Unparseable{Raw: line}
}

func atoi2(a, b string) (int, int, bool) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
