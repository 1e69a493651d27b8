package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	values map[string]string
	calls  int
}

func (s *mapStore) Get(_ context.Context, name string) (string, error) {
	s.calls++
	value, ok := s.values[name]
	if !ok {
		return "", errors.New("not found")
	}
	return value, nil
}

func TestCacheFetchesOnce(t *testing.T) {
	store := &mapStore{values: map[string]string{"k": "v"}}
	cache := NewCache(store)

	for i := 0; i < 3; i++ {
		value, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	}
	assert.Equal(t, 1, store.calls)
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	store := &mapStore{values: map[string]string{}}
	cache := NewCache(store)

	_, err := cache.Get(context.Background(), "missing")
	require.Error(t, err)

	store.values["missing"] = "late"
	value, err := cache.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "late", value)
}

func TestLoadPromptConfig(t *testing.T) {
	store := &mapStore{values: map[string]string{
		"prompt": `{"system_prompt": "system text", "user_template": "{article_body}"}`,
	}}

	cfg, err := LoadPromptConfig(context.Background(), store, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "system text", cfg.System)
	assert.Equal(t, "{article_body}", cfg.UserTemplate)
}

func TestLoadPromptConfigRequiresName(t *testing.T) {
	_, err := LoadPromptConfig(context.Background(), &mapStore{}, "")
	require.Error(t, err)
}

func TestResolveAPITokenPrefersInline(t *testing.T) {
	store := &mapStore{values: map[string]string{"secret": "stored"}}

	token, err := ResolveAPIToken(context.Background(), store, " inline ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "inline", token)
	assert.Equal(t, 0, store.calls)
}

func TestResolveAPITokenReadsBareSecret(t *testing.T) {
	store := &mapStore{values: map[string]string{"secret": " raw-token \n"}}

	token, err := ResolveAPIToken(context.Background(), store, "", "secret")
	require.NoError(t, err)
	assert.Equal(t, "raw-token", token)
}

func TestResolveAPITokenParsesJSONSecret(t *testing.T) {
	store := &mapStore{values: map[string]string{
		"a": `{"api_token": "from-api-token"}`,
		"b": `{"token": "from-token"}`,
	}}

	token, err := ResolveAPIToken(context.Background(), store, "", "a")
	require.NoError(t, err)
	assert.Equal(t, "from-api-token", token)

	token, err = ResolveAPIToken(context.Background(), store, "", "b")
	require.NoError(t, err)
	assert.Equal(t, "from-token", token)
}

func TestResolveAPITokenRequiresSomeSource(t *testing.T) {
	_, err := ResolveAPIToken(context.Background(), &mapStore{}, "", "")
	require.Error(t, err)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte("value\n"), 0o600))

	value, err := FileStore{Dir: dir}.Get(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("NEWSDIGEST_TEST_SECRET", "env-value")

	value, err := EnvStore{}.Get(context.Background(), "NEWSDIGEST_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "env-value", value)

	_, err = EnvStore{}.Get(context.Background(), "NEWSDIGEST_TEST_SECRET_MISSING")
	require.Error(t, err)
}
