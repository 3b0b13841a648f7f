package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAwaitSettledRequiresConsecutiveCleanProbes(t *testing.T) {
	fake := newFakePage()
	// A flicker between clean probes resets the stability count, so six
	// probes are consumed before the third consecutive clean one.
	fake.states = []uiState{
		{}, {},
		{Loading: true},
		{}, {}, {},
	}
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Equal(t, 6, fake.probeCalls)
}

func TestAwaitSettledSafetyTimeout(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{{Loading: true}}
	cfg := fastConfig()
	cfg.SafetyTimeoutMs = 1
	c := NewClient(fake, cfg, nil)

	err := c.AwaitSettled(context.Background())
	require.ErrorIs(t, err, ErrSettleTimeout)
}

func TestAwaitSettledClicksConfirmation(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{Confirmation: true},
		{}, {}, {},
	}
	fake.confirmClicked = true
	fake.confirmCount = 1
	fake.confirmLabel = "Allow"
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Equal(t, 1, fake.confirmEvals)
}

func TestAwaitSettledConfirmationWithoutButton(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{{Confirmation: true}}
	fake.confirmClicked = false
	c := NewClient(fake, fastConfig(), nil)

	err := c.AwaitSettled(context.Background())
	require.ErrorIs(t, err, ErrNoConfirmationButton)
}

func TestAwaitSettledAcceptsTrustDialog(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{TrustDialog: true},
		{}, {}, {},
	}
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Contains(t, fake.clickedText, trustButtonText)
}

func TestAwaitSettledRetriesChatError(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{ChatError: true},
		{}, {}, {},
	}
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Contains(t, fake.clickedText, tryAgainText)
}

func TestAwaitSettledDismissesNotificationOverlay(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{ErrorOverlay: true},
		{}, {}, {},
	}
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Equal(t, 4, fake.probeCalls)
}

func TestAwaitSettledConfirmationOutranksLoading(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{Loading: true, Confirmation: true},
		{}, {}, {},
	}
	fake.confirmClicked = true
	fake.confirmCount = 1
	fake.confirmLabel = "Continue"
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Equal(t, 1, fake.confirmEvals)
}

func TestAwaitSettledRecoversStuckTool(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{
		{ToolLoading: true},
		{ToolLoading: true},
		{}, {}, {},
	}
	fake.cancelClicks = true
	cfg := fastConfig()
	cfg.ToolStuckTimeoutMs = 1
	c := NewClient(fake, cfg, nil)

	require.NoError(t, c.AwaitSettled(context.Background()))
	require.Equal(t, 1, fake.cancelEvals)
	require.Contains(t, strings.Join(fake.typed, ""), "so I stopped it")
}

func TestAwaitSettledStuckToolWithoutCancelControl(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{{ToolLoading: true}}
	fake.cancelClicks = false
	cfg := fastConfig()
	cfg.ToolStuckTimeoutMs = 1
	cfg.SafetyTimeoutMs = 60000
	c := NewClient(fake, cfg, nil)

	err := c.AwaitSettled(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no cancel control")
}

func TestAwaitSettledContextCancelled(t *testing.T) {
	fake := newFakePage()
	fake.states = []uiState{{Loading: true}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(fake, fastConfig(), nil)

	require.ErrorIs(t, c.AwaitSettled(ctx), context.Canceled)
}
