package notifications

import (
	"testing"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOfferPayload() OfferPayload {
	return OfferPayload{
		OfferID:       "n-1",
		AgentName:     "Alice",
		PropertyID:    "p-1",
		PropertyTitle: "2BR apartment <near park>",
		City:          "austin",
		State:         "tx",
		ZipCode:       "73301",
		Round:         1,
		ExpiresAt:     time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC),
		Window:        15 * time.Minute,
		AcceptURL:     "https://dispatch.example.com/api/v1/offers/n-1/accept",
		RejectURL:     "https://dispatch.example.com/api/v1/offers/n-1/reject",
	}
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NotNil(t, r)

	// 3 offer channels + 1 alert channel
	assert.Len(t, r.templates, 4)
}

func TestRenderer_RenderOffer_Email(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.RenderOffer(domain.ChannelTypeEmail, testOfferPayload())
	require.NoError(t, err)

	assert.Equal(t, "[New listing] 2BR apartment <near park>", subject)
	assert.Contains(t, body, "Hello Alice")
	assert.Contains(t, body, "Austin, TX 73301")
	assert.Contains(t, body, "15m")
	assert.Contains(t, body, "Mar 1, 2025 10:15 UTC")
	assert.Contains(t, body, "/offers/n-1/accept")
	assert.Contains(t, body, "/offers/n-1/reject")
	assert.NotContains(t, body, "Round:")
}

func TestRenderer_RenderOffer_LaterRound(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := testOfferPayload()
	payload.Round = 2

	_, body, err := r.RenderOffer(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)
	assert.Contains(t, body, "Round: 2")
}

func TestRenderer_RenderOffer_SMS(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.RenderOffer(domain.ChannelTypeSMS, testOfferPayload())
	require.NoError(t, err)

	assert.NotContains(t, body, "\n")
	assert.Contains(t, body, "73301")
	assert.Contains(t, body, "Accept: https://")
}

func TestRenderer_RenderOffer_TelegramEscapesHTML(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.RenderOffer(domain.ChannelTypeTelegram, testOfferPayload())
	require.NoError(t, err)

	assert.Contains(t, body, "<b>New listing: 2BR apartment &lt;near park&gt;</b>")
	assert.Contains(t, body, `<a href="https://dispatch.example.com/api/v1/offers/n-1/accept">Accept</a>`)
}

func TestRenderer_RenderPoolAlert(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.RenderPoolAlert(domain.ChannelTypeMattermost, PoolAlertPayload{
		PropertyID:        "p-1",
		PropertyTitle:     "Loft",
		ZipCode:           "10001",
		Reason:            string(domain.UnassignedRoundsExhausted),
		NotificationsSent: 9,
		AgentsContacted:   3,
	})
	require.NoError(t, err)

	assert.Equal(t, "[Agent pool] Loft", subject)
	assert.Contains(t, body, "all rounds exhausted")
	assert.Contains(t, body, "| 9 | 3 |")
	assert.Contains(t, body, "`p-1`")
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.RenderOffer(domain.ChannelTypeMattermost, testOfferPayload())
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{15 * time.Minute, "15m"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h 30m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func TestReasonText(t *testing.T) {
	assert.Equal(t, "no matching agents", reasonText(string(domain.UnassignedNoCandidates)))
	assert.Equal(t, "all rounds exhausted", reasonText(string(domain.UnassignedRoundsExhausted)))
	assert.Equal(t, "manual override", reasonText("manual_override"))
}
