package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/brainlive/internal/capture"
	"github.com/rbright/brainlive/internal/fsm"
	"github.com/rbright/brainlive/internal/ipc"
	"github.com/rbright/brainlive/internal/live"
	"github.com/rbright/brainlive/internal/pcm"
	"github.com/rbright/brainlive/internal/transcript"
)

type harness struct {
	log        *eventLog
	device     *fakeDevice
	conn       *fakeConn
	dialer     *fakeDialer
	output     *fakeOutput
	outputs    int
	ledger     *fakeLedger
	summarizer *fakeSummarizer
	indicator  *fakeIndicator
	session    *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{log: &eventLog{}}
	h.device = &fakeDevice{log: h.log}
	h.conn = newFakeConn(h.log)
	h.dialer = &fakeDialer{conn: h.conn}
	h.output = &fakeOutput{log: h.log, now: 10.0}
	h.ledger = &fakeLedger{}
	h.summarizer = &fakeSummarizer{}
	h.indicator = &fakeIndicator{}

	var outputsMu sync.Mutex
	h.session = New(Config{
		Dialer:     h.dialer,
		Microphone: h.device,
		OpenOutput: func(int) (Output, error) {
			outputsMu.Lock()
			h.outputs++
			outputsMu.Unlock()
			return h.output, nil
		},
		Ledger:         h.ledger,
		Summarizer:     h.summarizer,
		Indicator:      h.indicator,
		Model:          "models/test",
		Voice:          "Kore",
		InputRate:      16000,
		OutputRate:     24000,
		QuantumSamples: 4,
	})
	t.Cleanup(func() { _ = h.session.Stop(context.Background()) })
	return h
}

func (h *harness) start(t *testing.T, mode Mode) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), Options{Mode: mode, Locale: "en"}))
	require.Equal(t, fsm.StateActive, h.session.State())
}

// audioPayload returns base64 PCM of the given duration at 24 kHz.
func audioPayload(seconds float64) live.InlineAudio {
	samples := int(seconds * 24000)
	raw := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(i%512))
	}
	return live.InlineAudio{MIMEType: "audio/pcm;rate=24000", Data: pcm.EncodeBase64(raw)}
}

func TestStartSendsSetupAndStopReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background(), Options{Mode: ModeAssistant, Locale: "fr"}))
	require.Equal(t, fsm.StateActive, h.session.State())

	setups := h.dialer.calls()
	require.Len(t, setups, 1)
	require.Equal(t, "models/test", setups[0].Model)
	require.Equal(t, "Kore", setups[0].Voice)
	require.Equal(t, []string{"AUDIO"}, setups[0].Modalities)
	require.True(t, setups[0].InputTranscription)
	require.True(t, setups[0].OutputTranscription)
	require.Equal(t, "Vous êtes un assistant cognitif. Soyez bref et structuré.", setups[0].Instruction)
	require.Equal(t, int32(1), h.indicator.starts.Load())

	require.NoError(t, h.session.Stop(context.Background()))
	require.Equal(t, fsm.StateIdle, h.session.State())
	require.Equal(t, int32(1), h.device.closes.Load())
	require.Equal(t, int32(1), h.conn.closes.Load())
	require.Equal(t, int32(1), h.output.closes.Load())
	require.Equal(t, int32(1), h.indicator.stops.Load())
	require.NoError(t, h.session.Wait(context.Background()))
}

func TestStopTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, h.session.Stop(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, h.session.Stop(context.Background()))

	require.Eventually(t, func() bool { return h.session.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), h.device.opens.Load())
	require.Equal(t, int32(1), h.device.closes.Load())
	require.Equal(t, int32(1), h.conn.closes.Load())
	require.Equal(t, int32(1), h.indicator.stops.Load())
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Stop(context.Background()))
	require.Equal(t, fsm.StateIdle, h.session.State())
	require.Zero(t, h.device.closes.Load())
}

func TestTranscriptionOnlyRecordsSingleUserTurn(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	setup := h.dialer.calls()[0]
	require.Empty(t, setup.Voice)
	require.False(t, setup.OutputTranscription)
	require.Contains(t, setup.Instruction, "silent transcriber")

	h.conn.in <- live.Message{InputText: "hello "}
	h.conn.in <- live.Message{InputText: "world", Audio: []live.InlineAudio{audioPayload(0.5)}}
	h.conn.in <- live.Message{OutputText: "ignored reply"}
	h.conn.in <- live.Message{TurnComplete: true}

	require.Eventually(t, func() bool { return len(h.ledger.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	turns := h.ledger.snapshot()
	require.Equal(t, transcript.RoleUser, turns[0].Role)
	require.Equal(t, "hello world", turns[0].Text)

	require.Equal(t, []submission{{sessionID: "ledger-1", segment: "hello world", locale: "en"}}, h.summarizer.snapshot())

	require.NoError(t, h.session.Stop(context.Background()))
	require.Len(t, h.ledger.snapshot(), 1)
	require.Zero(t, h.outputs)
	scheduled, _ := h.output.snapshot()
	require.Empty(t, scheduled)
}

func TestAssistantModeSchedulesAudioWithoutOverlap(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.5)}}
	require.Eventually(t, func() bool {
		s, _ := h.output.snapshot()
		return len(s) == 1
	}, time.Second, 5*time.Millisecond)

	h.output.mu.Lock()
	h.output.now = 10.05
	h.output.mu.Unlock()
	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.3)}}

	require.Eventually(t, func() bool {
		s, _ := h.output.snapshot()
		return len(s) == 2
	}, time.Second, 5*time.Millisecond)

	scheduled, _ := h.output.snapshot()
	require.InDelta(t, 10.0, scheduled[0].at, 1e-9)
	require.InDelta(t, 10.5, scheduled[1].at, 1e-9)
	require.Equal(t, 2, h.session.Status().Pending)
}

func TestAssistantModeRecordsBothTurnsAndSummarizesUserOnly(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{InputText: "what is next"}
	h.conn.in <- live.Message{OutputText: "Ship the beta."}
	h.conn.in <- live.Message{TurnComplete: true}

	require.Eventually(t, func() bool { return len(h.ledger.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	turns := h.ledger.snapshot()
	require.Equal(t, transcript.RoleUser, turns[0].Role)
	require.Equal(t, transcript.RoleAssistant, turns[1].Role)
	require.Equal(t, "Ship the beta.", turns[1].Text)

	subs := h.summarizer.snapshot()
	require.Len(t, subs, 1)
	require.Equal(t, "what is next", subs[0].segment)
}

func TestInterruptionStopsScheduledPlayback(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.5), audioPayload(0.5)}}
	require.Eventually(t, func() bool { return h.session.Status().Pending == 2 }, time.Second, 5*time.Millisecond)

	h.conn.in <- live.Message{Interrupted: true}
	require.Eventually(t, func() bool {
		_, stopped := h.output.snapshot()
		return stopped == 2
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, h.session.Status().Pending)
}

func TestMalformedAudioIsDroppedAndSessionContinues(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{Audio: []live.InlineAudio{{MIMEType: "audio/pcm;rate=24000", Data: "%%%"}}}
	h.conn.in <- live.Message{Audio: []live.InlineAudio{{MIMEType: "audio/pcm;rate=24000", Data: pcm.EncodeBase64([]byte{1, 2, 3})}}}
	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.1)}}

	require.Eventually(t, func() bool {
		s, _ := h.output.snapshot()
		return len(s) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, fsm.StateActive, h.session.State())
}

func TestStartFailsWhenDialFails(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errDialRefused

	err := h.session.Start(context.Background(), Options{Mode: ModeAssistant})
	require.ErrorIs(t, err, ErrSessionStartFailed)
	require.ErrorIs(t, err, errDialRefused)
	require.Equal(t, fsm.StateIdle, h.session.State())
	require.Equal(t, int32(1), h.device.closes.Load())
	require.Equal(t, int32(1), h.indicator.errors.Load())
	require.Zero(t, h.indicator.starts.Load())

	h.dialer.err = nil
	require.NoError(t, h.session.Start(context.Background(), Options{Mode: ModeTranscribe}))
	require.Equal(t, fsm.StateActive, h.session.State())
}

func TestStartFailsWhenMicrophoneUnavailable(t *testing.T) {
	h := newHarness(t)
	h.device.openErr = errors.New("no source")

	err := h.session.Start(context.Background(), Options{})
	require.ErrorIs(t, err, ErrSessionStartFailed)
	require.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	require.Equal(t, fsm.StateIdle, h.session.State())
	require.Empty(t, h.dialer.calls())
}

func TestStopWhileStartingCancelsDial(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = true
	h.dialer.dialing = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Start(context.Background(), Options{}) }()

	<-h.dialer.dialing
	require.Equal(t, fsm.StateStarting, h.session.State())
	require.NoError(t, h.session.Stop(context.Background()))

	err := <-errCh
	require.ErrorIs(t, err, ErrSessionStartFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, fsm.StateIdle, h.session.State())
	require.Equal(t, int32(1), h.device.closes.Load())
}

func TestStartContextCancelledWhileStarting(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = true
	h.dialer.dialing = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Start(ctx, Options{}) }()

	<-h.dialer.dialing
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, ErrSessionStartFailed)
	require.Equal(t, fsm.StateIdle, h.session.State())
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	require.NoError(t, h.session.Start(context.Background(), Options{Mode: ModeAssistant}))
	require.Len(t, h.dialer.calls(), 1)
	require.Equal(t, ModeTranscribe, h.session.Status().Mode)
}

func TestTransportErrorReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	cause := errors.New("status 1011")
	h.conn.fail(cause)

	require.Eventually(t, func() bool { return h.session.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
	err := h.session.Wait(context.Background())
	require.ErrorIs(t, err, ErrTransportError)
	require.ErrorIs(t, err, cause)
	require.Equal(t, int32(1), h.conn.closes.Load())
	require.Equal(t, int32(1), h.device.closes.Load())
	require.Eventually(t, func() bool { return h.indicator.errors.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServerErrorMessageStopsSession(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	h.conn.in <- live.Message{Err: errors.New("quota exceeded")}
	require.Eventually(t, func() bool { return h.session.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, h.session.Wait(context.Background()), ErrTransportError)
}

func TestCaptureFramesFlowUntilStop(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	quantum := make([]byte, 8)
	h.device.emit(quantum)
	h.device.emit(append(quantum, quantum...))
	require.Equal(t, 3, h.conn.sent())
	require.Equal(t, int64(3), h.session.Status().FramesSent)

	require.NoError(t, h.session.Stop(context.Background()))
	h.device.emit(quantum)
	require.Equal(t, 3, h.conn.sent())
}

func TestStopFlushesPartialTurn(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeTranscribe)

	h.conn.in <- live.Message{InputText: "unfinished thought"}
	require.Eventually(t, func() bool {
		h.session.mu.Lock()
		r := h.session.run
		h.session.mu.Unlock()
		return r != nil && r.aggregator.Pending()[transcript.RoleUser] != ""
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.Stop(context.Background()))
	turns := h.ledger.snapshot()
	require.Len(t, turns, 1)
	require.Equal(t, "unfinished thought", turns[0].Text)
	require.Len(t, h.summarizer.snapshot(), 1)
}

func TestTeardownRunsStepsInOrder(t *testing.T) {
	h := newHarness(t)
	h.session.stepHook = func(step int, name string) {
		h.log.add(name)
	}
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.5)}}
	require.Eventually(t, func() bool { return h.session.Status().Pending == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.Stop(context.Background()))
	require.Equal(t, []string{
		"mark closing",
		"detach capture",
		"clear connection",
		"microphone released",
		"release microphone",
		"output closed",
		"close output",
		"connection closed",
		"close connection",
		"playback handle stopped",
		"stop playback",
		"flush and release",
	}, h.log.snapshot())

	require.Equal(t, fsm.StateIdle, h.session.State())
	h.start(t, ModeAssistant)
	require.Equal(t, 2, len(h.dialer.calls()))
}

func TestInterruptWithAudioInSameMessageKeepsNewAudio(t *testing.T) {
	h := newHarness(t)
	h.start(t, ModeAssistant)

	h.conn.in <- live.Message{Audio: []live.InlineAudio{audioPayload(0.5)}}
	require.Eventually(t, func() bool { return h.session.Status().Pending == 1 }, time.Second, 5*time.Millisecond)

	h.conn.in <- live.Message{Interrupted: true, Audio: []live.InlineAudio{audioPayload(0.25)}}
	require.Eventually(t, func() bool {
		scheduled, stopped := h.output.snapshot()
		return len(scheduled) == 2 && stopped == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.session.Status().Pending)
}

func TestHandleIPCCommands(t *testing.T) {
	h := newHarness(t)

	status := h.session.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)

	stop := h.session.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.False(t, stop.OK)
	require.Contains(t, stop.Error, "cannot stop from state idle")

	unknown := h.session.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")

	h.start(t, ModeTranscribe)
	status = h.session.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, status.OK)
	var st Status
	require.NoError(t, json.Unmarshal(status.Data, &st))
	require.Equal(t, fsm.StateActive, st.State)
	require.Equal(t, ModeTranscribe, st.Mode)

	level := h.session.Handle(context.Background(), ipc.Request{Command: "level"})
	require.True(t, level.OK)
	require.Equal(t, "0.0000", level.Message)

	toggle := h.session.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, toggle.OK)
	require.Equal(t, "stop requested", toggle.Message)
	require.Eventually(t, func() bool { return h.session.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
}
