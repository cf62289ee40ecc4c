package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), 42)
	userID, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), userID)
}

func TestPrincipalMissingOrInvalid(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	_, ok = PrincipalFromContext(ContextWithPrincipal(context.Background(), 0))
	assert.False(t, ok)

	_, ok = PrincipalFromContext(ContextWithPrincipal(context.Background(), -1))
	assert.False(t, ok)
}
