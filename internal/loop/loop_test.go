package loop_test

import (
	"context"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/link/linktest"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/loop"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDelay time.Duration

func (d fixedDelay) Delay() time.Duration { return time.Duration(d) }

type nanEngine struct{}

func (nanEngine) Name() controller.Strategy        { return "nan" }
func (nanEngine) Validate(controller.Config) error { return nil }

func (nanEngine) Compute(*snapshot.Snapshot, controller.Config, snapshot.Reading) (float64, controller.Diagnostics, error) {
	return math.NaN(), nil, nil
}

type harness struct {
	dev    *linktest.Device
	link   *link.Link
	loop   *loop.Loop
	shared *state.Shared
	stats  *metrics.Stats
}

func newHarness(t *testing.T, cfg loop.Config, engine controller.Engine) *harness {
	t.Helper()

	dev := linktest.NewDevice(1)
	c := codec.Default()
	cutting, err := c.EncodeCutting(10)
	require.NoError(t, err)
	descent, err := c.EncodeDescent(60)
	require.NoError(t, err)

	block := make([]uint16, 15)
	block[1] = 200 // 20 A
	block[4] = 1   // descending
	block[6] = cutting
	block[7] = descent
	dev.SetBlock(0, block)

	linkCfg := link.DefaultConfig()
	linkCfg.Transport = link.TransportTCP
	linkCfg.Address = "simulated:502"
	linkCfg.Timeout = 20 * time.Millisecond
	linkCfg.ReconnectBackoff = time.Millisecond
	l, err := link.New(linkCfg, dev.Opener(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Connect(context.Background()))

	mapper, err := snapshot.NewMapper(c, snapshot.DefaultFields())
	require.NoError(t, err)

	shared := state.NewShared()
	stats := metrics.NewStats(shared.Locker())

	if engine == nil {
		engine, err = controller.NewFuzzy(controller.DefaultFuzzyModel())
		require.NoError(t, err)
	}
	factory, err := controller.NewFactory(controller.Options{
		Codec:     c,
		Limits:    controller.DefaultLimits(),
		Registers: controller.DefaultRegisters(),
		Stats:     stats,
		Locker:    shared.Locker(),
	}, engine)
	require.NoError(t, err)

	lp, err := loop.New(cfg, loop.Deps{
		Link:    l,
		Mapper:  mapper,
		Factory: factory,
		Delay:   fixedDelay(0),
		Shared:  shared,
		Stats:   stats,
	})
	require.NoError(t, err)

	return &harness{dev: dev, link: l, loop: lp, shared: shared, stats: stats}
}

func testConfig() loop.Config {
	cfg := loop.DefaultConfig()
	cfg.MinWriteInterval = 0
	return cfg
}

// startCutting runs the first cycle: Start, delay elapsed, descent active,
// then the first adjustment.
func (h *harness) startCutting(t *testing.T) {
	t.Helper()
	require.NoError(t, h.loop.Start())
	require.NoError(t, h.loop.Step(context.Background()))
	require.Equal(t, state.Cutting, h.loop.State())
}

func TestStep_ReachesCuttingAndWrites(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.startCutting(t)

	writes := h.dev.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, uint16(2050), writes[0].Address)
	assert.Equal(t, uint16(2051), writes[1].Address)

	view := h.shared.View()
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", view.Session.String())
	assert.InDelta(t, 20.0, view.Snapshot.Get(snapshot.CuttingCurrent).Value, 1e-9)
	assert.Equal(t, uint64(1), view.Seq)
}

func TestStep_NoWritesOutsideCutting(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Idle, h.loop.State())
	assert.Empty(t, h.dev.Writes())
	assert.NotNil(t, h.shared.Snapshot())
}

func TestStep_ReadTimeoutsKeepCutting(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.startCutting(t)

	h.dev.TimeoutReads(3)
	for i := 0; i < 3; i++ {
		err := h.loop.Step(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsLinkFault(err), "cycle %d", i)
		assert.True(t, errors.HasCode(err, link.ErrTimeout))
		assert.Equal(t, state.Cutting, h.loop.State())
	}

	assert.Equal(t, 4, h.dev.Opens())
	assert.True(t, h.link.IsConnected())

	counters := h.stats.Snapshot()
	assert.Equal(t, uint64(3), counters.LinkFaults)
	assert.Equal(t, uint64(3), counters.ReadFailures)
	assert.Equal(t, uint64(3), counters.Reconnects)
	assert.Zero(t, counters.ControllerFaults)

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Cutting, h.loop.State())
}

func TestStep_WriteFailureRetriesNextCycle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.startCutting(t)
	before := len(h.dev.Writes())

	h.dev.TimeoutWrites(1)
	err := h.loop.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, controller.ErrWriteFailed))
	assert.Equal(t, state.Cutting, h.loop.State())
	assert.Equal(t, 1, h.dev.Opens(), "one write failure does not reconnect")

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.dev.Writes(), before+2)
}

func TestStep_RepeatedWriteFailuresReconnect(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.startCutting(t)

	h.dev.TimeoutWrites(3)
	for i := 0; i < 3; i++ {
		require.Error(t, h.loop.Step(context.Background()))
		assert.Equal(t, state.Cutting, h.loop.State())
	}
	assert.Equal(t, 2, h.dev.Opens())
}

func TestStep_ControllerErrorHaltsUntilReset(t *testing.T) {
	h := newHarness(t, testConfig(), nanEngine{})
	require.NoError(t, h.loop.Start())

	err := h.loop.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsControllerError(err))
	assert.Equal(t, state.Error, h.loop.State())
	assert.Empty(t, h.dev.Writes())

	// Start is not valid from Error.
	require.NoError(t, h.loop.Start())
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Error, h.loop.State())

	require.NoError(t, h.loop.Reset())
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Idle, h.loop.State())
	assert.Equal(t, uint64(1), h.stats.Snapshot().ControllerFaults)
}

func TestStep_CompletesAndAcknowledges(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.startCutting(t)

	h.dev.Set(4, loop.DefaultCutCompleteValue)
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Completed, h.loop.State())
	writes := len(h.dev.Writes())

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.dev.Writes(), writes)

	require.NoError(t, h.loop.Acknowledge())
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Idle, h.loop.State())
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", h.shared.View().Session.String())
}

func TestStep_AutoStartRearms(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStart = true
	h := newHarness(t, cfg, nil)
	h.startCutting(t)

	h.dev.Set(4, loop.DefaultCutCompleteValue)
	require.NoError(t, h.loop.Step(context.Background()))
	require.NoError(t, h.loop.Acknowledge())
	require.NoError(t, h.loop.Step(context.Background()))

	// Acknowledge returns to Idle and queues Start for the next cycle.
	h.dev.Set(4, 0)
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Equal(t, state.Ready, h.loop.State())
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.NoError(t, h.loop.Start())
	require.Eventually(t, func() bool {
		return h.loop.State() == state.Cutting
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNew_RejectsShortTelemetryBlock(t *testing.T) {
	cfg := testConfig()
	cfg.TelemetryCount = 4

	mapper, err := snapshot.NewMapper(codec.Default(), snapshot.DefaultFields())
	require.NoError(t, err)
	factory, err := controller.NewFactory(controller.Options{Limits: controller.DefaultLimits()}, controller.NewLinear())
	require.NoError(t, err)

	_, err = loop.New(cfg, loop.Deps{
		Link:    &link.Link{},
		Mapper:  mapper,
		Factory: factory,
		Delay:   fixedDelay(0),
		Shared:  state.NewShared(),
	})
	assert.True(t, errors.HasCode(err, loop.ErrTelemetryTooShort))
}
