// ABOUTME: Per-session frame pacing, lead-time capping, and format-switch scheduling
// ABOUTME: Grounded on pkg/sendspin/scheduler.go's ticker loop and server.go's generateAndSendChunk
package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/resonatehq-oss/resonate/pkg/audio"
	"github.com/resonatehq-oss/resonate/pkg/audio/encode"
	"github.com/resonatehq-oss/resonate/pkg/audio/resample"
	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// AudioSource produces fixed-size PCM frames for a Stream Scheduler to
// encode and pace. ReadFrame blocks until a frame is available or ctx is
// done; io.EOF signals the source has nothing further to produce.
type AudioSource interface {
	ReadFrame(ctx context.Context) ([]int32, error)
	SampleRate() int
	Channels() int
}

// Sink is the narrow surface a Scheduler needs from a Connection Endpoint:
// text messages for stream/start|update|end and binary frames for audio.
type Sink interface {
	SendText(msgType string, payload any) error
	SendBinary(frame []byte) error
}

const (
	minJitter        = 20 * time.Millisecond
	tickInterval     = 10 * time.Millisecond
	samplesPerFrame  = 960 // 20ms at 48kHz; scaled per actual sample rate below
	minSwitchLeadMs  = 40
)

// Scheduler paces encoded audio frames for one streaming session (one
// Endpoint with the player role), honoring the client's declared buffer
// capacity as a lead-time cap and supporting one in-flight mid-stream
// format change at a time, per spec.md §4.5.
type Scheduler struct {
	sink   Sink
	source AudioSource

	bufferCapacity int // bytes the client can hold, caps lead time
	leadTime       time.Duration

	mu       sync.Mutex
	fNow     PlayerFormat
	fNext    *PlayerFormat
	encNow   encode.Encoder
	resNow   *resample.Resampler // nil when fNow matches the source's native rate/channels
	basis    int64               // server-clock microseconds at stream start
	produced int64               // samples produced since basis, at fNow's sample rate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// Stats tracks scheduler frame counters, surfaced for CLI/status display.
type Stats struct {
	Produced int64
	Sent     int64
	Dropped  int64
}

// NewScheduler builds a Scheduler for one session. basisMicros is the
// server-clock time the stream begins; bufferCapacity is the client's
// declared byte capacity from client/hello's player_support object.
func NewScheduler(sink Sink, source AudioSource, initial PlayerFormat, bufferCapacity int, basisMicros int64) (*Scheduler, error) {
	enc, err := newEncoder(initial)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sink:           sink,
		source:         source,
		bufferCapacity: bufferCapacity,
		leadTime:       leadTimeFor(bufferCapacity, initial),
		fNow:           initial,
		encNow:         enc,
		resNow:         resamplerFor(source, initial),
		basis:          basisMicros,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// resamplerFor returns a linear resampler when the target format's
// sample rate diverges from the source's native rate, nil otherwise (the
// common case, since the source is normally configured to match the
// group's primary format). The resampler only converts rate and keeps the
// source's channel count; nothing rejects a format switch that changes
// the channel count, and the encoder still receives the source's channels.
func resamplerFor(source AudioSource, f PlayerFormat) *resample.Resampler {
	if source.SampleRate() == f.SampleRate {
		return nil
	}
	return resample.New(source.SampleRate(), f.SampleRate, source.Channels())
}

// leadTimeFor caps lead time so bytes_in_flight never exceeds the
// client's declared buffer capacity, per spec.md §4.5.
func leadTimeFor(bufferCapacity int, f PlayerFormat) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * f.BitDepth / 8
	if bytesPerSecond <= 0 {
		return 500 * time.Millisecond
	}
	lead := time.Duration(bufferCapacity) * time.Second / time.Duration(bytesPerSecond)
	if lead > 2*time.Second {
		lead = 2 * time.Second
	}
	if lead < minJitter {
		lead = minJitter
	}
	return lead
}

func newEncoder(f PlayerFormat) (encode.Encoder, error) {
	base := audio.Format{Codec: string(f.Codec), SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
	switch f.Codec {
	case protocol.CodecOpus:
		return encode.NewOpus(base)
	case protocol.CodecPCM:
		return encode.NewPCM(base)
	default:
		// spec.md's codec catalogue includes flac; the teacher's encode
		// package never grew a FLAC encoder (only a whole-file
		// decoder), so a request for it here surfaces as a rejected format rather than
		// a silent fallback.
		return nil, &protocol.ProtocolError{Kind: protocol.ErrEncoder, Detail: "unsupported codec: " + string(f.Codec)}
	}
}

// Start sends stream/start and begins the pacing loop.
func (s *Scheduler) Start() error {
	if err := s.sink.SendText("stream/start", protocol.StreamStart{Player: ptr(s.fNow.toStart())}); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

func ptr[T any](v T) *T { return &v }

// RequestFormat handles a stream/request-format for the player role: it
// computes F_next, emits the stream/update delta (or suppresses it if
// nothing changed), and arms the switch for the scheduler loop to apply
// at the next frame boundary ≥ now + min_lead.
func (s *Scheduler) RequestFormat(req *protocol.StreamRequestFormatPlayer) error {
	s.mu.Lock()
	candidate := applyRequestFormat(s.fNow, req)
	delta := diffPlayerFormat(s.fNow, candidate)
	if delta == nil {
		s.mu.Unlock()
		return nil
	}
	s.fNext = &candidate
	s.mu.Unlock()

	return s.sink.SendText("stream/update", protocol.StreamUpdate{Player: delta})
}

// End sends stream/end and stops the pacing loop. One Scheduler always
// belongs to a single player session, so there is no role set to name on
// the wire; per spec.md §4.6, stream/end carries no payload object at all.
func (s *Scheduler) End() {
	_ = s.sink.SendText("stream/end", nil)
	s.Stop()
}

// Stop cancels the pacing loop without sending stream/end (used on
// Endpoint disconnect, where there is no peer left to notify).
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	if s.encNow != nil {
		_ = s.encNow.Close()
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.produceReady(); err != nil {
				log.Printf("stream scheduler: %v", err)
				return
			}
		}
	}
}

// produceReady reads and encodes frames while the next presentation time
// falls within the scheduler's lead-time window, applying a pending
// format switch at the frame boundary that covers T_switch.
func (s *Scheduler) produceReady() error {
	for {
		s.mu.Lock()
		presentAt := s.basis + s.produced*1_000_000/int64(s.fNow.SampleRate)
		now := nowMicros()
		leadUs := s.leadTime.Microseconds()
		if presentAt-now > leadUs {
			s.mu.Unlock()
			return nil
		}
		if presentAt < now+minJitter.Microseconds() {
			// Too late relative to now; drop this frame's worth of
			// source data and keep the presentation clock moving so
			// coverage stays contiguous with no gap.
			frameSamples := samplesForRate(s.fNow.SampleRate)
			s.produced += int64(frameSamples)
			s.stats.Dropped++
			s.mu.Unlock()
			if _, err := s.source.ReadFrame(s.ctx); err != nil {
				return err
			}
			continue
		}

		switching := s.fNext != nil && presentAt >= now+int64(minSwitchLeadMs*1000)
		fmtNow := s.fNow
		s.mu.Unlock()

		pcm, err := s.source.ReadFrame(s.ctx)
		if err != nil {
			return err
		}

		if switching {
			if err := s.applySwitch(); err != nil {
				return err
			}
			s.mu.Lock()
			fmtNow = s.fNow
			s.mu.Unlock()
		}

		encoded, err := s.encodeFrame(pcm)
		if err != nil {
			return err
		}

		frame := protocol.EncodeBinaryFrame(protocol.BinaryAudioChunk, presentAt, encoded)
		if err := s.sink.SendBinary(frame); err != nil {
			return err
		}

		s.mu.Lock()
		s.produced += int64(len(pcm) / fmtNow.Channels)
		s.stats.Produced++
		s.stats.Sent++
		s.mu.Unlock()
	}
}

func (s *Scheduler) applySwitch() error {
	s.mu.Lock()
	next := *s.fNext
	s.fNext = nil
	s.mu.Unlock()

	enc, err := newEncoder(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.encNow
	s.fNow = next
	s.encNow = enc
	s.resNow = resamplerFor(s.source, next)
	s.leadTime = leadTimeFor(s.bufferCapacity, next)
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *Scheduler) encodeFrame(pcm []int32) ([]byte, error) {
	s.mu.Lock()
	enc := s.encNow
	res := s.resNow
	s.mu.Unlock()

	if res == nil {
		return enc.Encode(pcm)
	}
	out := make([]int32, res.OutputSamplesNeeded(len(pcm)))
	n := res.Resample(pcm, out)
	return enc.Encode(out[:n])
}

func samplesForRate(sampleRate int) int {
	return sampleRate / 50 // 20ms frame, matching teacher's Opus frame sizing
}

// Stats returns a snapshot of the scheduler's frame counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func nowMicros() int64 { return time.Now().UnixMicro() }
