package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimsFuncExtractsClaims(t *testing.T) {
	fn := ClaimsFunc(&fakeLLM{reply: `{"claims": ["shipped parser", "fixed the race"]}`}, nil)

	claims, err := fn(context.Background(), []string{"tweet one", "tweet two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shipped parser", "fixed the race"}, claims)
}

func TestClaimsFuncErrorsWithoutClient(t *testing.T) {
	fn := ClaimsFunc(nil, nil)

	_, err := fn(context.Background(), []string{"tweet"})
	require.ErrorIs(t, err, errNoLLM)
}

func TestClaimsFuncErrorsOnMalformedReply(t *testing.T) {
	fn := ClaimsFunc(&fakeLLM{reply: `{"claims": "not an array"}`}, nil)

	_, err := fn(context.Background(), []string{"tweet"})
	require.Error(t, err)
}
