package runner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFreePortReturnsDistinctPorts(t *testing.T) {
	a, err := FindFreePort()
	require.NoError(t, err)
	require.Greater(t, a, 0)

	b, err := FindFreePort()
	require.NoError(t, err)
	require.Greater(t, b, 0)
}

func TestEstimateTokensCeilsLengthOverFour(t *testing.T) {
	require.Equal(t, 1, estimateTokens(""))
	require.Equal(t, 1, estimateTokens("abc"))
	require.Equal(t, 1, estimateTokens("abcd"))
	require.Equal(t, 2, estimateTokens("abcde"))
	require.Equal(t, 25, estimateTokens(stringOfLen(97)))
}

func TestSanitizeForFilenameReplacesUnsafeChars(t *testing.T) {
	require.Equal(t, "character_model", sanitizeForFilename("character_model"))
	require.Equal(t, "executor_model_code_gen", sanitizeForFilename("executor_model:code/gen"))
}

func TestBuildArgsIncludesPortAndModelPath(t *testing.T) {
	args := buildArgs(StartConfig{
		ModelPath:   "/models/a.gguf",
		ModelConfig: map[string]string{"ctx-size": "4096"},
		ExtraArgs:   []string{"--flash-attn"},
	}, 8123)
	require.Contains(t, args, "--port")
	require.Contains(t, args, "8123")
	require.Contains(t, args, "--model")
	require.Contains(t, args, "/models/a.gguf")
	require.Contains(t, args, "--ctx-size")
	require.Contains(t, args, "4096")
	require.Contains(t, args, "--flash-attn")
}

func TestIsRunningFalseForUnknownKey(t *testing.T) {
	r := New("/bin/true", t.TempDir(), 1, 0, 0)
	require.False(t, r.IsRunning("nope"))
	_, ok := r.GetPort("nope")
	require.False(t, ok)
	require.False(t, r.GetStatus("nope").IsRunning)
}

func TestStopUnknownKeyIsNoop(t *testing.T) {
	r := New("/bin/true", t.TempDir(), 1, 0, 0)
	r.Stop("never-started")
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
