package credentials

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSSM struct {
	values map[string]string
	err    error
	names  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.names = append(f.names, *in.Name)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &v}}, nil
}

func TestParamStoreFetch(t *testing.T) {
	api := &fakeSSM{values: map[string]string{
		"/astrobot/openai_api_key":        "sk-test",
		"/astrobot/whatsapp_access_token": "EAAG",
	}}
	ps, err := NewParamStore(api, "astrobot", OpenAIKey, WhatsAppAccessToken)
	require.NoError(t, err)

	values, err := ps.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-test", values[OpenAIKey])
	require.Equal(t, "EAAG", values[WhatsAppAccessToken])
	require.Equal(t, []string{"/astrobot/openai_api_key", "/astrobot/whatsapp_access_token"}, api.names)
}

func TestParamStoreMissingFailsWholeFetch(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/astrobot/openai_api_key": "sk"}}
	ps, err := NewParamStore(api, "/astrobot", OpenAIKey, TelegramApiKey)
	require.NoError(t, err)

	_, err = ps.Fetch(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "/astrobot/telegram_api_key")
}

func TestNewParamStoreValidates(t *testing.T) {
	_, err := NewParamStore(nil, "p", OpenAIKey)
	require.Error(t, err)
	_, err = NewParamStore(&fakeSSM{}, "p")
	require.Error(t, err)
}

func TestProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	api := &fakeSSM{values: map[string]string{"/astrobot/openai_api_key": "first"}}
	ps, _ := NewParamStore(api, "astrobot", OpenAIKey)
	p := NewProvider(ps, discard())

	_, err := p.Get(OpenAIKey)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, p.Init(ctx))
	require.Equal(t, "first", p.Value(OpenAIKey))
	first := p.RefreshedAt()
	require.False(t, first.IsZero())

	api.values["/astrobot/openai_api_key"] = "second"
	require.NoError(t, p.Refresh(ctx))
	require.Equal(t, "second", p.Value(OpenAIKey))

	api.err = errors.New("throttled")
	require.Error(t, p.Refresh(ctx))
	require.Equal(t, "second", p.Value(OpenAIKey))

	api.err = nil
	require.NoError(t, p.Close())
	_, err = p.Get(OpenAIKey)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.Refresh(ctx), ErrClosed)
}

func TestStaticSkipsEmpty(t *testing.T) {
	p := NewProvider(Static{OpenAIKey: "sk", TelegramApiKey: ""}, discard())
	require.NoError(t, p.Init(context.Background()))
	require.Equal(t, 1, p.Len())
	require.Equal(t, "sk", p.Value(OpenAIKey))
	require.Empty(t, p.Value(TelegramApiKey))
}
