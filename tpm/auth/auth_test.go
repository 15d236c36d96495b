package auth

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go.step.sm/tpmobject/tpm/ctxfile"
	"go.step.sm/tpmobject/tpm/internal/mock"
)

func mustContext(t *testing.T, saved tpm2.TPMHandle) []byte {
	t.Helper()
	b, err := ctxfile.Marshal(&tpm2.TPMSContext{
		Sequence:    1,
		SavedHandle: saved,
		Hierarchy:   0x40000007,
		ContextBlob: tpm2.TPM2BContextData{Buffer: []byte("blob")},
	})
	require.NoError(t, err)
	return b
}

func TestEstablisher_Establish(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{
		"password.txt": []byte("secret"),
		"long.txt":     []byte(strings.Repeat("a", 65)),
		"session.ctx":  mustContext(t, 0x03000000),
		"object.ctx":   mustContext(t, 0x80000000),
		"garbage.ctx":  []byte("garbage"),
	}
	e := &Establisher{
		ReadFile: func(name string) ([]byte, error) {
			if b, ok := files[name]; ok {
				return b, nil
			}
			return nil, fs.ErrNotExist
		},
		Stdin: strings.NewReader("from stdin\n"),
	}

	tests := []struct {
		name       string
		authValue  string
		restricted bool
		want       *Session
		wantErr    error
	}{
		{"ok empty", "", false, &Session{Kind: Password, Password: []byte{}}, nil},
		{"ok password", "secret", true, &Session{Kind: Password, Password: []byte("secret")}, nil},
		{"ok unknown prefix", "http:x", false, &Session{Kind: Password, Password: []byte("http:x")}, nil},
		{"ok str", "str:hex:00", false, &Session{Kind: Password, Password: []byte("hex:00")}, nil},
		{"ok hex", "hex:0102ff", true, &Session{Kind: Password, Password: []byte{1, 2, 0xff}}, nil},
		{"ok file", "file:password.txt", true, &Session{Kind: Password, Password: []byte("secret")}, nil},
		{"ok stdin", "file:-", false, &Session{Kind: Password, Password: []byte("from stdin")}, nil},
		{"ok 64 bytes", strings.Repeat("b", 64), false, &Session{Kind: Password, Password: []byte(strings.Repeat("b", 64))}, nil},
		{"fail hex", "hex:zz", false, nil, nil},
		{"fail file", "file:missing.txt", false, nil, fs.ErrNotExist},
		{"fail too long", strings.Repeat("b", 65), false, nil, ErrPasswordTooLong},
		{"fail file too long", "file:long.txt", false, nil, ErrPasswordTooLong},
		{"fail session restricted", "session:session.ctx", true, nil, ErrRestricted},
		{"fail session not a session", "session:object.ctx", false, nil, ErrNotSession},
		{"fail session garbage", "session:garbage.ctx", false, nil, ctxfile.ErrNotContext},
		{"fail pcr", "pcr:sha256:0,1", false, nil, ErrUnsupported},
		{"fail pcr restricted", "pcr:sha256:0", true, nil, ErrRestricted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			dev := mock.NewDevice(ctrl)

			got, err := e.Establish(ctx, dev, tt.authValue, tt.restricted)
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want.Kind, got.Kind)
				assert.Equal(t, string(tt.want.Password), string(got.Password))
				return
			}

			require.Error(t, err)
			assert.Nil(t, got)
			var ae *Error
			assert.ErrorAs(t, err, &ae)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NotContains(t, err.Error(), "bbbb")
		})
	}
}

func TestEstablish_session(t *testing.T) {
	ctx := context.Background()
	e := &Establisher{
		ReadFile: func(string) ([]byte, error) {
			return mustContext(t, 0x02000001), nil
		},
	}
	loaded := tpm2.NamedHandle{Handle: 0x02000001, Name: tpm2.TPM2BName{Buffer: []byte{0x02, 0, 0, 1}}}

	t.Run("ok", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dev := mock.NewDevice(ctrl)
		gomock.InOrder(
			dev.EXPECT().LoadContext(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, c *tpm2.TPMSContext) (tpm2.NamedHandle, error) {
				assert.Equal(t, tpm2.TPMHandle(0x02000001), tpm2.TPMHandle(c.SavedHandle))
				return loaded, nil
			}),
			dev.EXPECT().FlushContext(ctx, tpm2.TPMHandle(0x02000001)).Return(nil),
		)

		s, err := e.Establish(ctx, dev, "session:session.ctx", false)
		require.NoError(t, err)
		assert.Equal(t, Saved, s.Kind)
		assert.Equal(t, loaded, s.Handle)

		_, err = s.Auth()
		assert.ErrorIs(t, err, ErrUnsupported)

		require.NoError(t, s.Close(ctx))
		require.NoError(t, s.Close(ctx))
	})

	t.Run("fail load", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dev := mock.NewDevice(ctrl)
		dev.EXPECT().LoadContext(ctx, gomock.Any()).Return(tpm2.NamedHandle{}, errors.New("TPM_RC_INTEGRITY"))

		_, err := e.Establish(ctx, dev, "session:session.ctx", false)
		assert.EqualError(t, err, "failed establishing session authorization: TPM_RC_INTEGRITY")
	})

	t.Run("fail no device", func(t *testing.T) {
		_, err := e.Establish(ctx, nil, "session:session.ctx", false)
		assert.Error(t, err)
	})
}

func TestSession_Auth(t *testing.T) {
	s, err := Establish(context.Background(), nil, "str:pw", true)
	require.NoError(t, err)
	a, err := s.Auth()
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.NoError(t, s.Close(context.Background()))

	var nilSession *Session
	assert.NoError(t, nilSession.Close(context.Background()))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "password", Password.String())
	assert.Equal(t, "session", Saved.String())
	assert.Equal(t, "Kind(0)", Kind(0).String())
}
