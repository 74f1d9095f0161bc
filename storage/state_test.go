package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticKeys struct {
	ikm cryptoutils.Seed
	err error
}

func (k staticKeys) StateIKM() (cryptoutils.Seed, error) {
	return k.ikm, k.err
}

// MockBackend implements interfaces.KVBackend for testing
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Set(ctx context.Context, key, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockBackend) Delete(ctx context.Context, key []byte) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockBackend) Available(ctx context.Context) bool { return true }
func (m *MockBackend) Name() string                       { return "mock" }
func (m *MockBackend) LocationURI() string                { return "mock://" }
func (m *MockBackend) Close() error                       { return nil }

func newTestState(t *testing.T) (*StateService, *MemoryBackend) {
	t.Helper()
	ikm, err := cryptoutils.NewRandomSeed()
	require.NoError(t, err)
	backend := NewMemoryBackend("test")
	return NewStateService(testLogger, backend, staticKeys{ikm: ikm}, DefaultGasCosts()), backend
}

func TestStateService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t)
	ck := interfaces.ContractKey{1}

	gas, err := state.Write(ctx, []byte("counter"), []byte("42"), ck)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000+30*9), gas)
	assert.Equal(t, 1, backend.Len())

	value, gas, err := state.Read(ctx, []byte("counter"), ck)
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), value)
	assert.Equal(t, uint64(1000+3*2), gas)

	gas, err = state.Remove(ctx, []byte("counter"), ck)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), gas)
	assert.Equal(t, 0, backend.Len())

	value, gas, err = state.Read(ctx, []byte("counter"), ck)
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, uint64(1000), gas)
}

func TestStateService_BackendNeverSeesPlaintext(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t)
	ck := interfaces.ContractKey{7}

	_, err := state.Write(ctx, []byte("owner"), []byte("alice"), ck)
	require.NoError(t, err)

	for k, v := range backend.entries {
		assert.NotContains(t, k, "owner")
		assert.NotContains(t, string(v), "alice")
		assert.Len(t, k, 32)
		assert.Len(t, v, len("alice")+cryptoutils.SIVTagSize)
	}
}

func TestStateService_ContractIsolation(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t)
	a := interfaces.ContractKey{0xaa}
	b := interfaces.ContractKey{0xbb}

	_, err := state.Write(ctx, []byte("k"), []byte("from a"), a)
	require.NoError(t, err)
	_, err = state.Write(ctx, []byte("k"), []byte("from b"), b)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Len())

	value, _, err := state.Read(ctx, []byte("k"), a)
	require.NoError(t, err)
	assert.Equal(t, []byte("from a"), value)

	value, _, err = state.Read(ctx, []byte("k"), b)
	require.NoError(t, err)
	assert.Equal(t, []byte("from b"), value)

	// Replaying a's ciphertext under b's backend key must not authenticate.
	backend.entries[string(physicalKey(b, []byte("k")))] = backend.entries[string(physicalKey(a, []byte("k")))]
	_, _, err = state.Read(ctx, []byte("k"), b)
	assert.ErrorIs(t, err, interfaces.ErrStateDecryption)
}

func TestStateService_TamperedValue(t *testing.T) {
	ctx := context.Background()
	state, backend := newTestState(t)
	ck := interfaces.ContractKey{3}

	_, err := state.Write(ctx, []byte("k"), []byte("v"), ck)
	require.NoError(t, err)

	pk := string(physicalKey(ck, []byte("k")))
	backend.entries[pk][0] ^= 0x01

	_, gas, err := state.Read(ctx, []byte("k"), ck)
	assert.ErrorIs(t, err, interfaces.ErrStateDecryption)
	assert.Equal(t, uint64(1000), gas)
}

func TestStateService_MissingStateKey(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("nokeys")
	state := NewStateService(testLogger, backend, staticKeys{err: errors.New("not initialized")}, DefaultGasCosts())
	ck := interfaces.ContractKey{}

	_, err := state.Write(ctx, []byte("k"), []byte("v"), ck)
	assert.ErrorIs(t, err, interfaces.ErrStateEncryption)
	assert.Equal(t, 0, backend.Len())

	require.NoError(t, backend.Set(ctx, physicalKey(ck, []byte("k")), []byte("0123456789abcdef0")))
	_, _, err = state.Read(ctx, []byte("k"), ck)
	assert.ErrorIs(t, err, interfaces.ErrStateDecryption)
}

func TestStateService_BackendErrors(t *testing.T) {
	ctx := context.Background()
	ikm, err := cryptoutils.NewRandomSeed()
	require.NoError(t, err)

	backend := new(MockBackend)
	state := NewStateService(testLogger, backend, staticKeys{ikm: ikm}, DefaultGasCosts())
	ck := interfaces.ContractKey{9}

	backendErr := errors.New("connection reset")
	backend.On("Get", ctx, physicalKey(ck, []byte("k"))).Return(nil, backendErr)
	backend.On("Set", ctx, physicalKey(ck, []byte("k")), mock.Anything).Return(backendErr)
	backend.On("Delete", ctx, physicalKey(ck, []byte("k"))).Return(backendErr)

	_, _, err = state.Read(ctx, []byte("k"), ck)
	assert.ErrorIs(t, err, backendErr)
	assert.NotErrorIs(t, err, interfaces.ErrStateDecryption)

	_, err = state.Write(ctx, []byte("k"), []byte("v"), ck)
	assert.ErrorIs(t, err, backendErr)
	assert.NotErrorIs(t, err, interfaces.ErrStateEncryption)

	_, err = state.Remove(ctx, []byte("k"), ck)
	assert.ErrorIs(t, err, backendErr)

	backend.AssertExpectations(t)
}

func TestStateService_CustomCosts(t *testing.T) {
	ctx := context.Background()
	ikm, err := cryptoutils.NewRandomSeed()
	require.NoError(t, err)
	state := NewStateService(testLogger, NewMemoryBackend(""), staticKeys{ikm: ikm}, GasCosts{WriteBase: 1, WritePerByte: 1})

	gas, err := state.Write(ctx, []byte("ab"), []byte("cde"), interfaces.ContractKey{})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), gas)
}

func TestStateService_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	state, _ := newTestState(t)
	ck := interfaces.ContractKey{7}

	_, err := state.Write(ctx, []byte("flag"), []byte{}, ck)
	require.NoError(t, err)

	value, gas, err := state.Read(ctx, []byte("flag"), ck)
	require.NoError(t, err)
	require.NotNil(t, value, "an entry written empty is not absent")
	assert.Empty(t, value)
	assert.Equal(t, uint64(1000), gas)

	value, _, err = state.Read(ctx, []byte("never written"), ck)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestStateService_HostAllocator(t *testing.T) {
	ctx := context.Background()
	state, _ := newTestState(t)
	ck := interfaces.ContractKey{8}

	errTooLarge := errors.New("too large")
	var requested []int
	state.WithHostAllocator(func(n int) []byte {
		requested = append(requested, n)
		if n > 32 {
			panic(errTooLarge)
		}
		return make([]byte, n)
	})

	_, err := state.Write(ctx, []byte("small"), []byte("v"), ck)
	require.NoError(t, err)
	_, err = state.Write(ctx, []byte("large"), make([]byte, 64), ck)
	require.NoError(t, err)

	value, _, err := state.Read(ctx, []byte("small"), ck)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	assert.PanicsWithValue(t, errTooLarge, func() {
		_, _, _ = state.Read(ctx, []byte("large"), ck)
	})
	assert.Equal(t, []int{1 + 16, 64 + 16}, requested, "sized by the sealed entry")
}
