package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickModelVerifiesReadBack(t *testing.T) {
	fake := newFakePage()
	fake.innerTexts[pickerSelector("Pick Model")] = " GPT-4.1 "
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.PickModel(context.Background(), "GPT-4.1"))
	require.Contains(t, fake.clicked, pickerSelector("Pick Model"))
	require.Contains(t, fake.clickedText, "GPT-4.1")
}

func TestPickModelMismatchFails(t *testing.T) {
	fake := newFakePage()
	fake.innerTexts[pickerSelector("Pick Model")] = "Claude Sonnet 4"
	c := NewClient(fake, fastConfig(), nil)

	err := c.PickModel(context.Background(), "GPT-4.1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "picker shows")
}

func TestPickModelSkipsWhenUnchanged(t *testing.T) {
	fake := newFakePage()
	fake.innerTexts[pickerSelector("Pick Model")] = "GPT-4.1"
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.PickModel(context.Background(), "GPT-4.1"))
	clicks := len(fake.clicked)

	require.NoError(t, c.PickModel(context.Background(), "GPT-4.1"))
	require.Equal(t, clicks, len(fake.clicked))
}

func TestPickModeRepicksAfterChange(t *testing.T) {
	fake := newFakePage()
	fake.innerTexts[pickerSelector("Set Mode")] = "Ask"
	c := NewClient(fake, fastConfig(), nil)

	require.NoError(t, c.PickMode(context.Background(), "Ask"))

	fake.innerTexts[pickerSelector("Set Mode")] = "Agent"
	require.NoError(t, c.PickMode(context.Background(), "Agent"))
	require.Contains(t, fake.clickedText, "Ask")
	require.Contains(t, fake.clickedText, "Agent")
}
