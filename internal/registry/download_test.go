package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://my-bucket/models/qwen-7b.gguf")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "models/qwen-7b.gguf", key)
}

func TestParseS3URLRejectsNonS3Scheme(t *testing.T) {
	_, _, err := ParseS3URL("https://example.com/model.gguf")
	require.Error(t, err)
}

func TestParseS3URLRejectsMissingKey(t *testing.T) {
	_, _, err := ParseS3URL("s3://my-bucket")
	require.Error(t, err)
}
