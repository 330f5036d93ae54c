// ABOUTME: Tests for lead-time capping, codec rejection, and format-switch requests
package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

type fakeSource struct {
	sampleRate, channels int
}

func (f *fakeSource) ReadFrame(ctx context.Context) ([]int32, error) {
	n := samplesForRate(f.sampleRate) * f.channels
	return make([]int32, n), nil
}
func (f *fakeSource) SampleRate() int { return f.sampleRate }
func (f *fakeSource) Channels() int   { return f.channels }

type fakeSink struct {
	mu     sync.Mutex
	texts  []struct{ msgType string; payload any }
	binary [][]byte
}

func (s *fakeSink) SendText(msgType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, struct {
		msgType string
		payload any
	}{msgType, payload})
	return nil
}

func (s *fakeSink) SendBinary(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binary = append(s.binary, frame)
	return nil
}

func (s *fakeSink) textCount(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.texts {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}

// lastPayload returns the payload of the most recent message of the
// given type, or nil if none was sent.
func (s *fakeSink) lastPayload(msgType string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payload any
	for _, m := range s.texts {
		if m.msgType == msgType {
			payload = m.payload
		}
	}
	return payload
}

func TestNewSchedulerRejectsUnsupportedCodec(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	_, err := NewScheduler(sink, source, PlayerFormat{Codec: protocol.CodecFLAC, SampleRate: 48000, Channels: 2, BitDepth: 16}, 65536, time.Now().UnixMicro())
	if err == nil {
		t.Fatal("expected an error for unsupported flac encoder")
	}
}

func TestStartSendsStreamStart(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	sched, err := NewScheduler(sink, source, PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, 65536, time.Now().UnixMicro())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sink.textCount("stream/start") != 1 {
		t.Errorf("expected exactly one stream/start message")
	}
}

func TestLeadTimeForCapsAtTwoSeconds(t *testing.T) {
	f := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	lead := leadTimeFor(1_000_000_000, f) // absurdly large buffer capacity
	if lead > 2*time.Second {
		t.Errorf("expected lead time capped at 2s, got %v", lead)
	}
}

func TestLeadTimeForHonorsSmallBuffer(t *testing.T) {
	f := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	bytesPerSecond := 48000 * 2 * 16 / 8
	lead := leadTimeFor(bytesPerSecond/10, f) // 100ms worth of audio
	if lead < minJitter {
		t.Errorf("expected lead time floored at minJitter, got %v", lead)
	}
	if lead > 200*time.Millisecond {
		t.Errorf("expected lead time near 100ms for a small buffer, got %v", lead)
	}
}

func TestRequestFormatSuppressedWhenNoChange(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	initial := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	sched, err := NewScheduler(sink, source, initial, 65536, time.Now().UnixMicro())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	codec := protocol.CodecPCM
	if err := sched.RequestFormat(&protocol.StreamRequestFormatPlayer{Codec: &codec}); err != nil {
		t.Fatalf("RequestFormat: %v", err)
	}
	if sink.textCount("stream/update") != 0 {
		t.Errorf("expected no stream/update for a no-op format request")
	}
}

func TestEndSendsStreamEndWithAbsentPayload(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	sched, err := NewScheduler(sink, source, PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, 65536, time.Now().UnixMicro())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	sched.End()

	payload := sink.lastPayload("stream/end")
	if payload != nil {
		t.Errorf("expected stream/end to carry no payload object, got %#v", payload)
	}
}

func TestProduceReadyDropsFramesWithinMinJitterOfNow(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	// basis is 10ms in the past and the lead-time floor (bufferCapacity 1
	// byte) pins leadTime at exactly minJitter, so the first two 20ms
	// frames both land inside [now-something, now+minJitter) and must be
	// dropped per spec.md's "present_time < now + min_jitter" rule; the
	// third frame's presentAt clears now+minJitter and ends the loop.
	basis := time.Now().UnixMicro() - 10_000
	sched, err := NewScheduler(sink, source, PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, 1, basis)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.produceReady(); err != nil {
		t.Fatalf("produceReady: %v", err)
	}

	stats := sched.Stats()
	if stats.Dropped != 2 {
		t.Errorf("expected 2 dropped frames within minJitter of now, got %d", stats.Dropped)
	}
	if stats.Produced != 0 || len(sink.binary) != 0 {
		t.Errorf("expected no frames sent while still within minJitter of now, got %d produced, %d binary frames", stats.Produced, len(sink.binary))
	}
}

func TestProduceReadySendsFramesBeyondMinJitter(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	// basis is 100ms ahead of now, comfortably beyond minJitter (20ms); a
	// 28800-byte buffer caps leadTime at exactly 150ms, so frames at +100,
	// +120, and +140ms all fall inside the lead window and get sent, and
	// the one at +160ms falls outside it and ends the loop.
	basis := time.Now().UnixMicro() + 100_000
	sched, err := NewScheduler(sink, source, PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}, 28800, basis)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.produceReady(); err != nil {
		t.Fatalf("produceReady: %v", err)
	}

	stats := sched.Stats()
	if stats.Dropped != 0 {
		t.Errorf("expected no dropped frames beyond the minJitter boundary, got %d", stats.Dropped)
	}
	if stats.Produced != 3 || len(sink.binary) != 3 {
		t.Errorf("expected exactly 3 frames sent, got %d produced, %d binary frames", stats.Produced, len(sink.binary))
	}
}

func TestRequestFormatEmitsUpdateOnRealChange(t *testing.T) {
	sink := &fakeSink{}
	source := &fakeSource{sampleRate: 48000, channels: 2}
	initial := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	sched, err := NewScheduler(sink, source, initial, 65536, time.Now().UnixMicro())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer sched.Stop()

	bitDepth := 24
	if err := sched.RequestFormat(&protocol.StreamRequestFormatPlayer{BitDepth: &bitDepth}); err != nil {
		t.Fatalf("RequestFormat: %v", err)
	}
	if sink.textCount("stream/update") != 1 {
		t.Errorf("expected exactly one stream/update for the bit_depth change")
	}
}
