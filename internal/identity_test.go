package internal_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/14-lobby-directory/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIdentityStub_Resolve 測試身分解析
func TestIdentityStub_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		playerID    string
		displayName string
		validate    func(t *testing.T, stub *internal.IdentityStub, id internal.Identity)
	}{
		{
			name:        "explicit id and name",
			playerID:    "p1",
			displayName: "Alice",
			validate: func(t *testing.T, _ *internal.IdentityStub, id internal.Identity) {
				assert.Equal(t, "p1", id.PlayerID)
				assert.Equal(t, "Alice", id.DisplayName)
			},
		},
		{
			name:     "anonymous sign in",
			playerID: "  ",
			validate: func(t *testing.T, _ *internal.IdentityStub, id internal.Identity) {
				_, err := uuid.Parse(id.PlayerID)
				assert.NoError(t, err)
				assert.Regexp(t, guestNamePattern, id.DisplayName)
			},
		},
		{
			name:        "name is remembered",
			playerID:    "p2",
			displayName: " Bob ",
			validate: func(t *testing.T, stub *internal.IdentityStub, id internal.Identity) {
				assert.Equal(t, "Bob", id.DisplayName)

				again, err := stub.Resolve(ctx, "p2", "")
				require.NoError(t, err)
				assert.Equal(t, "Bob", again.DisplayName)
			},
		},
		{
			name:     "fallback name is stable",
			playerID: "p3",
			validate: func(t *testing.T, stub *internal.IdentityStub, id internal.Identity) {
				assert.Regexp(t, guestNamePattern, id.DisplayName)

				again, err := stub.Resolve(ctx, "p3", "")
				require.NoError(t, err)
				assert.Equal(t, id.DisplayName, again.DisplayName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, err := internal.NewIdentityStub(time.Hour, testLogger())
			require.NoError(t, err)
			defer stub.Close()

			id, err := stub.Resolve(ctx, tt.playerID, tt.displayName)
			require.NoError(t, err)
			tt.validate(t, stub, id)
		})
	}
}

// TestGuestName 預設暱稱範圍
func TestGuestName(t *testing.T) {
	for range 200 {
		name := internal.GuestName()
		require.Regexp(t, guestNamePattern, name)

		n, err := strconv.Atoi(strings.TrimPrefix(name, "Guest_"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 9999)
	}
}
