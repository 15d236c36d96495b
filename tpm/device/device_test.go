package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.step.sm/tpmobject/tpm/debug"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/primary"
)

// fakeTPM answers commands with canned responses, in order.
type fakeTPM struct {
	commands  [][]byte
	responses [][]byte
}

func (f *fakeTPM) Send(cmd []byte) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	if len(f.responses) == 0 {
		return nil, errors.New("unexpected command")
	}
	rsp := f.responses[0]
	f.responses = f.responses[1:]
	return rsp, nil
}

// response returns a TPM_ST_NO_SESSIONS response with the given return code
// and parameters.
func response(rc uint32, params ...[]byte) []byte {
	body := bytes.Join(params, nil)
	b := binary.BigEndian.AppendUint16(nil, 0x8001)
	b = binary.BigEndian.AppendUint32(b, uint32(10+len(body)))
	b = binary.BigEndian.AppendUint32(b, rc)
	return append(b, body...)
}

func algsResponse(more bool, algs ...uint16) []byte {
	b := []byte{0}
	if more {
		b[0] = 1
	}
	b = binary.BigEndian.AppendUint32(b, 0) // TPM_CAP_ALGS
	b = binary.BigEndian.AppendUint32(b, uint32(len(algs)))
	for _, a := range algs {
		b = binary.BigEndian.AppendUint16(b, a)
		b = binary.BigEndian.AppendUint32(b, 0)
	}
	return response(0, b)
}

func tpm2b(b []byte) []byte {
	return append(binary.BigEndian.AppendUint16(nil, uint16(len(b))), b...)
}

func commandCode(cmd []byte) tpm2.TPMCC {
	return tpm2.TPMCC(binary.BigEndian.Uint32(cmd[6:10]))
}

func openFake(t *testing.T, f *fakeTPM, opts ...Option) *TPM {
	t.Helper()
	tpm, err := New(append([]Option{WithTransport(f)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, tpm.Open(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, tpm.Close(context.Background()))
	})
	return tpm
}

func TestNew(t *testing.T) {
	tpm, err := New(WithDeviceName("/dev/tpmrm0"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/tpmrm0", tpm.DeviceName())

	_, err = New(WithTransport(nil))
	assert.Error(t, err)

	// Logs are discarded unless a logger is given.
	assert.NotSame(t, log.Default(), tpm.logger)
	l := log.New(io.Discard)
	tpm, err = New(WithLogger(l))
	require.NoError(t, err)
	assert.Same(t, l, tpm.logger)
}

func TestTPM_OpenClose(t *testing.T) {
	ctx := context.Background()
	f := &fakeTPM{responses: [][]byte{response(0), response(0)}}
	tpm, err := New(WithTransport(f))
	require.NoError(t, err)

	_, err = tpm.Send([]byte{0x80, 0x01})
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, tpm.Open(ctx))
	require.NoError(t, tpm.Open(ctx))
	_, err = tpm.Send([]byte{0x80, 0x01})
	require.NoError(t, err)

	require.NoError(t, tpm.Close(ctx))
	_, err = tpm.Send([]byte{0x80, 0x01})
	require.NoError(t, err)

	require.NoError(t, tpm.Close(ctx))
	_, err = tpm.Send([]byte{0x80, 0x01})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 2, tpm.Commands())

	assert.NoError(t, tpm.Close(ctx))
}

func TestTPM_SupportedAlgorithms(t *testing.T) {
	ctx := context.Background()

	t.Run("ok paged", func(t *testing.T) {
		f := &fakeTPM{responses: [][]byte{
			algsResponse(true, 0x0001, 0x0004),
			algsResponse(false, 0x0023),
		}}
		tpm := openFake(t, f)

		algs, err := tpm.SupportedAlgorithms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []tpm2.TPMAlgID{tpm2.TPMAlgRSA, tpm2.TPMAlgSHA1, tpm2.TPMAlgECC}, algs)

		require.Len(t, f.commands, 2)
		assert.Equal(t, tpm2.TPMCCGetCapability, commandCode(f.commands[0]))
		assert.Equal(t, uint32(0), binary.BigEndian.Uint32(f.commands[0][14:18]))
		assert.Equal(t, uint32(5), binary.BigEndian.Uint32(f.commands[1][14:18]))
	})

	t.Run("ok empty", func(t *testing.T) {
		tpm := openFake(t, &fakeTPM{responses: [][]byte{algsResponse(false)}})
		algs, err := tpm.SupportedAlgorithms(ctx)
		require.NoError(t, err)
		assert.Empty(t, algs)
		assert.Equal(t, primary.RSA, primary.SelectAlgorithm(algs))
	})

	t.Run("fail rc", func(t *testing.T) {
		tpm := openFake(t, &fakeTPM{responses: [][]byte{response(0x101)}})
		_, err := tpm.SupportedAlgorithms(ctx)
		assert.Error(t, err)
	})

	t.Run("fail canceled", func(t *testing.T) {
		f := &fakeTPM{}
		tpm := openFake(t, f)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := tpm.SupportedAlgorithms(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.commands)
	})
}

func TestTPM_TranslateHandle(t *testing.T) {
	ctx := context.Background()
	name := []byte{0x00, 0x0b, 0xaa, 0xbb}
	readPublic := response(0,
		tpm2.Marshal(tpm2.New2B(primary.Template(primary.ECCP256))),
		tpm2b(name),
		tpm2b(name),
	)

	t.Run("ok persistent", func(t *testing.T) {
		f := &fakeTPM{responses: [][]byte{readPublic}}
		tpm := openFake(t, f)
		got, err := tpm.TranslateHandle(ctx, 0x81000001)
		require.NoError(t, err)
		assert.Equal(t, tpm2.TPMHandle(0x81000001), got.Handle)
		assert.Equal(t, name, got.Name.Buffer)
		require.Len(t, f.commands, 1)
		assert.Equal(t, tpm2.TPMCCReadPublic, commandCode(f.commands[0]))
	})

	t.Run("ok hierarchy", func(t *testing.T) {
		f := &fakeTPM{}
		tpm := openFake(t, f)
		got, err := tpm.TranslateHandle(ctx, tpm2.TPMHandle(handle.Owner))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x01}, got.Name.Buffer)
		assert.Empty(t, f.commands)
	})

	t.Run("ok pcr", func(t *testing.T) {
		tpm := openFake(t, &fakeTPM{})
		got, err := tpm.TranslateHandle(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 7}, got.Name.Buffer)
	})

	t.Run("fail persistent", func(t *testing.T) {
		tpm := openFake(t, &fakeTPM{responses: [][]byte{response(0x18b)}})
		_, err := tpm.TranslateHandle(ctx, 0x81000002)
		assert.ErrorContains(t, err, "0x81000002")
	})
}

func TestTPM_LoadContext(t *testing.T) {
	ctx := context.Background()
	c := &tpm2.TPMSContext{
		Sequence:    1,
		SavedHandle: 0x80000000,
		Hierarchy:   tpm2.TPMRHOwner,
		ContextBlob: tpm2.TPM2BContextData{Buffer: []byte("saved")},
	}
	loaded := response(0, binary.BigEndian.AppendUint32(nil, 0x80000001))
	name := []byte{0x00, 0x0b, 0xaa, 0xbb}
	readPublic := response(0,
		tpm2.Marshal(tpm2.New2B(primary.Template(primary.ECCP256))),
		tpm2b(name),
		tpm2b(name),
	)

	t.Run("ok", func(t *testing.T) {
		f := &fakeTPM{responses: [][]byte{loaded, readPublic}}
		tpm := openFake(t, f)
		got, err := tpm.LoadContext(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, tpm2.TPMHandle(0x80000001), got.Handle)
		assert.Equal(t, name, got.Name.Buffer)
	})

	t.Run("fail read public flushes", func(t *testing.T) {
		f := &fakeTPM{responses: [][]byte{loaded, response(0x18b), response(0)}}
		tpm := openFake(t, f)
		_, err := tpm.LoadContext(ctx, c)
		assert.ErrorContains(t, err, "0x80000001")
		require.Len(t, f.commands, 3)
		assert.Equal(t, tpm2.TPMCCFlushContext, commandCode(f.commands[2]))
	})

	t.Run("fail flush is reported", func(t *testing.T) {
		f := &fakeTPM{responses: [][]byte{loaded, response(0x18b), response(0x18b)}}
		tpm := openFake(t, f)
		_, err := tpm.LoadContext(ctx, c)
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed flushing 0x80000001")
	})

	t.Run("fail load", func(t *testing.T) {
		tpm := openFake(t, &fakeTPM{responses: [][]byte{response(0x18b)}})
		_, err := tpm.LoadContext(ctx, c)
		assert.ErrorContains(t, err, "failed loading context")
	})

	_, err := openFake(t, &fakeTPM{}).LoadContext(ctx, nil)
	assert.Error(t, err)
}

func TestTPM_FlushContext(t *testing.T) {
	ctx := context.Background()
	f := &fakeTPM{responses: [][]byte{response(0), response(0x18b)}}
	tpm := openFake(t, f)

	require.NoError(t, tpm.FlushContext(ctx, 0x80000001))
	require.Len(t, f.commands, 1)
	assert.Equal(t, tpm2.TPMCCFlushContext, commandCode(f.commands[0]))
	assert.Equal(t, uint32(0x80000001), binary.BigEndian.Uint32(f.commands[0][10:14]))

	assert.ErrorContains(t, tpm.FlushContext(ctx, 0x80000002), "failed flushing 0x80000002")
}

func TestTPM_Info(t *testing.T) {
	ctx := context.Background()

	props := func(kv ...uint32) []byte {
		b := []byte{0}
		b = binary.BigEndian.AppendUint32(b, 6) // TPM_CAP_TPM_PROPERTIES
		b = binary.BigEndian.AppendUint32(b, uint32(len(kv)/2))
		for _, v := range kv {
			b = binary.BigEndian.AppendUint32(b, v)
		}
		return response(0, b)
	}

	f := &fakeTPM{responses: [][]byte{props(
		0x105, 0x49424d00, // IBM
		0x106, 0x53572020, // "SW  "
		0x107, 0x2054504d, // " TPM"
		0x108, 0,
		0x109, 0,
		0x10b, 0x20170619,
	)}}
	tpm := openFake(t, f)

	info, err := tpm.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IBM", info.Manufacturer.Name)
	assert.Equal(t, "SW   TPM", info.VendorInfo)
	assert.Equal(t, FirmwareVersion{Major: 0x2017, Minor: 0x0619}, info.FirmwareVersion)
	assert.Equal(t, "8215.1561", info.FirmwareVersion.String())
}

func TestWithTap(t *testing.T) {
	var log bytes.Buffer
	f := &fakeTPM{responses: [][]byte{response(0)}}
	tpm := openFake(t, f, WithTap(debug.NewTextTap(&log, &log)))

	require.NoError(t, tpm.FlushContext(context.Background(), 0x80000000))
	assert.Equal(t, "-> 80010000000e0000016580000000\n<- 80010000000a00000000\n", log.String())
}
