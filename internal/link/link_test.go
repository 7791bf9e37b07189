package link_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/link/linktest"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.Transport = link.TransportTCP
	cfg.Address = "simulated:502"
	cfg.Timeout = 20 * time.Millisecond
	cfg.ReconnectBackoff = time.Millisecond
	return cfg
}

func connected(t *testing.T, dev *linktest.Device) *link.Link {
	t.Helper()
	l, err := link.New(testConfig(), dev.Opener(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Connect(context.Background()))
	return l
}

func TestReadWrite(t *testing.T) {
	dev := linktest.NewDevice(1)
	dev.SetBlock(0, []uint16{10, 20, 30})
	l := connected(t, dev)

	values, err := l.Read(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20, 30}, values)

	require.NoError(t, l.Write(2050, 133))
	assert.Equal(t, uint16(133), dev.Get(2050))
	assert.Equal(t, []modbus.WriteRequest{{Address: 2050, Value: 133}}, dev.Writes())
}

func TestNotConnected(t *testing.T) {
	dev := linktest.NewDevice(1)
	l, err := link.New(testConfig(), dev.Opener(), nil)
	require.NoError(t, err)

	assert.False(t, l.IsConnected())
	_, err = l.Read(0, 1)
	assert.True(t, errors.HasCode(err, link.ErrNotConnected))
	assert.True(t, errors.IsLinkFault(err))
}

func TestTimeoutIsLinkFault(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	dev.TimeoutReads(1)
	_, err := l.Read(0, 4)
	assert.True(t, errors.HasCode(err, link.ErrTimeout))
	assert.True(t, errors.IsLinkFault(err))

	// The link recovers on the next exchange.
	_, err = l.Read(0, 4)
	assert.NoError(t, err)
}

func TestChecksumMismatchNeverReturnsData(t *testing.T) {
	dev := linktest.NewDevice(1)
	dev.Set(0, 42)
	l := connected(t, dev)

	dev.CorruptResponses(1)
	values, err := l.Read(0, 1)
	assert.Nil(t, values)
	assert.True(t, errors.HasCode(err, modbus.ErrFrameChecksum))
}

func TestDeviceException(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	dev.RaiseException(0x02)
	_, err := l.Read(0, 10)
	require.True(t, errors.HasCode(err, modbus.ErrFrameException))

	var appErr errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, modbus.Exception{Function: modbus.FuncReadHoldingRegisters, Code: 0x02}, appErr.GetData())

	// The short exception frame is consumed whole; the next read is clean.
	values, err := l.Read(0, 2)
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestCorruptWriteEchoFails(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	dev.CorruptResponses(1)
	err := l.Write(7, 1)
	assert.True(t, errors.HasCode(err, modbus.ErrFrameChecksum))
	assert.True(t, errors.IsLinkFault(err))
}

func TestFailureThresholdRequiresReconnect(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	dev.TimeoutWrites(3)
	for i := 1; i <= 2; i++ {
		err := l.Write(2050, 1)
		require.Error(t, err)
		assert.False(t, errors.HasCode(err, link.ErrReconnectRequired), "failure %d", i)
	}

	err := l.Write(2050, 1)
	assert.True(t, errors.HasCode(err, link.ErrReconnectRequired))
	assert.True(t, errors.HasCode(err, link.ErrTimeout))

	require.NoError(t, l.Reconnect(context.Background()))
	assert.Equal(t, 2, dev.Opens())
	assert.Equal(t, 1, dev.Closes())
	assert.NoError(t, l.Write(2050, 1))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	for i := 0; i < 5; i++ {
		dev.TimeoutWrites(2)
		assert.Error(t, l.Write(1, 1))
		err := l.Write(1, 1)
		assert.False(t, errors.HasCode(err, link.ErrReconnectRequired))
		assert.NoError(t, l.Write(1, 1))
	}
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	dev := linktest.NewDevice(1)
	dev.FailOpens(3)

	l, err := link.New(testConfig(), dev.Opener(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Connect(context.Background()))
	assert.True(t, l.IsConnected())
	assert.Equal(t, 1, dev.Opens())
}

func TestConnectCancelled(t *testing.T) {
	dev := linktest.NewDevice(1)
	dev.FailOpens(1 << 20)

	l, err := link.New(testConfig(), dev.Opener(), logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = l.Connect(ctx)
	assert.True(t, errors.HasCode(err, link.ErrConnectCancelled))
	assert.False(t, l.IsConnected())
}

func TestDisconnectIdempotent(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	assert.NoError(t, l.Disconnect())
	assert.NoError(t, l.Disconnect())
	assert.False(t, l.IsConnected())
	assert.Equal(t, 1, dev.Closes())
}

func TestWriteSequence(t *testing.T) {
	dev := linktest.NewDevice(1)
	l := connected(t, dev)

	steps := []modbus.WriteRequest{
		{Address: 0x1000, Value: 0xA5A5},
		{Address: 0x0200, Value: 9600},
		{Address: 0x1001, Value: 1},
	}
	require.NoError(t, l.WriteSequence(steps))
	assert.Equal(t, steps, dev.Writes())

	dev.TimeoutWrites(1)
	err := l.WriteSequence(steps)
	assert.True(t, errors.HasCode(err, link.ErrSequenceStep))
	assert.True(t, errors.IsLinkFault(err))
	assert.Len(t, dev.Writes(), 3)
}

func TestConfigValidate(t *testing.T) {
	cfg := link.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Parity = "mark"
	assert.True(t, errors.HasCode(cfg.Validate(), link.ErrInvalidConfig))

	cfg = link.DefaultConfig()
	cfg.Transport = link.TransportTCP
	assert.Error(t, cfg.Validate())

	cfg.Address = "10.0.0.5:502"
	assert.NoError(t, cfg.Validate())

	_, err := link.NewOpener(link.Config{Transport: "can"})
	assert.Error(t, err)
}
