package skinport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColor(t *testing.T) {
	tests := []struct {
		input    string
		expected Color
		rgb      [3]uint8
		hex      string
	}{
		{input: "#eb4b4b", expected: 0xeb4b4b, rgb: [3]uint8{0xeb, 0x4b, 0x4b}, hex: "#eb4b4b"},
		{input: "4b69ff", expected: 0x4b69ff, rgb: [3]uint8{0x4b, 0x69, 0xff}, hex: "#4b69ff"},
		{input: "#0000ff", expected: 0xff, rgb: [3]uint8{0, 0, 0xff}, hex: "#0000ff"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseColor(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
			r, g, b := c.RGB()
			assert.Equal(t, tt.rgb, [3]uint8{r, g, b})
			assert.Equal(t, tt.hex, c.String())
		})
	}

	_, err := ParseColor("#zzzzzz")
	assert.Error(t, err)
}

func TestMarketHashName(t *testing.T) {
	assert.Equal(t, "AK-47 | Redline (Field-Tested)", MarketHashName("AK-47 | Redline", FieldTested))
	assert.Equal(t, "AWP | Dragon Lore (Factory New)", MarketHashName("AWP | Dragon Lore", FactoryNew))
}

func TestParseEnums(t *testing.T) {
	app, err := ParseAppID("tf2")
	require.NoError(t, err)
	assert.Equal(t, AppTF2, app)

	app, err = ParseAppID("cs2")
	require.NoError(t, err)
	assert.Equal(t, AppCSGO, app)

	app, err = ParseAppID("252490")
	require.NoError(t, err)
	assert.Equal(t, AppRust, app)
	assert.Equal(t, "rust", app.String())

	_, err = ParseAppID("730abc")
	assert.Error(t, err)

	cur, err := ParseCurrency("usd")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, cur)
	_, err = ParseCurrency("XYZ")
	assert.Error(t, err)

	loc, err := ParseLocale("ZH")
	require.NoError(t, err)
	assert.Equal(t, LocaleZH, loc)
	_, err = ParseLocale("pt")
	assert.Error(t, err)

	assert.True(t, SteamDegraded.Valid())
	assert.False(t, SteamStatus("unknown").Valid())
}

func TestDecodeSaleFeed(t *testing.T) {
	lock := time.Date(2025, 2, 16, 8, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"eventType": "listed",
		"sales": []any{
			map[string]any{
				"id":             int64(1),
				"saleId":         int64(21954466),
				"appid":          int64(730),
				"marketHashName": "AK-47 | Slate (Field-Tested)",
				"color":          "#D2D2D2",
				"bgColor":        nil,
				"rarityColor":    "#4b69ff",
				"lock":           packet.TimestampFromTime(lock),
				"salePrice":      int64(312),
				"suggestedPrice": int64(350),
				"currency":       "EUR",
				"saleType":       "public",
				"wear":           0.2381,
				"pattern":        int64(661),
				"exterior":       "Field-Tested",
				"stattrak":       true,
				"tags":           []any{map[string]any{"name": "Rifle", "name_localized": "Rifle"}},
				"unknownField":   "ignored",
			},
			map[string]any{
				"id":   int64(2),
				"lock": "2025-02-17T10:30:00.000Z",
			},
		},
	}

	feed, err := DecodeSaleFeed(payload)
	require.NoError(t, err)
	assert.Equal(t, EventListed, feed.EventType)
	require.Len(t, feed.Sales, 2)

	s := feed.Sales[0]
	assert.Equal(t, int64(21954466), s.SaleID)
	assert.Equal(t, AppCSGO, s.AppID)
	require.NotNil(t, s.Color)
	assert.Equal(t, Color(0xd2d2d2), *s.Color)
	assert.Nil(t, s.BgColor)
	require.NotNil(t, s.Lock)
	assert.True(t, lock.Equal(*s.Lock))
	assert.Equal(t, int64(312), s.SalePrice)
	assert.Equal(t, SaleTypePublic, s.SaleType)
	require.NotNil(t, s.Wear)
	assert.InDelta(t, 0.2381, *s.Wear, 1e-9)
	require.NotNil(t, s.Exterior)
	assert.Equal(t, FieldTested, *s.Exterior)
	assert.True(t, s.StatTrak)
	assert.Equal(t, []Tag{{Name: "Rifle", NameLocalized: "Rifle"}}, s.Tags)

	require.NotNil(t, feed.Sales[1].Lock)
	assert.True(t, time.Date(2025, 2, 17, 10, 30, 0, 0, time.UTC).Equal(*feed.Sales[1].Lock))

	_, err = DecodeSaleFeed([]any{"not", "a", "map"})
	assert.Error(t, err)
}

func TestDecodeSteamStatus(t *testing.T) {
	tests := []struct {
		name     string
		payload  any
		expected SteamStatus
		wantErr  bool
	}{
		{name: "string", payload: "degraded", expected: SteamDegraded},
		{name: "map", payload: map[string]any{"status": "offline"}, expected: SteamOffline},
		{name: "number", payload: int64(3), wantErr: true},
		{name: "map without status", payload: map[string]any{"state": "offline"}, wantErr: true},
		{name: "unknown string", payload: "delayed", wantErr: true},
		{name: "unknown map value", payload: map[string]any{"status": "Operational"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSteamStatus(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeSteamStatus_Unknown(t *testing.T) {
	_, err := DecodeSteamStatus("delayed")
	assert.ErrorIs(t, err, ErrUnknownSteamStatus)
	assert.Contains(t, err.Error(), `"delayed"`)
}

func TestSaleFeed_JSON(t *testing.T) {
	c := Color(0xeb4b4b)
	b, err := json.Marshal(SaleFeedSale{ID: 5, RarityColor: &c})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rarityColor":"#eb4b4b"`)

	var back SaleFeedSale
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.RarityColor)
	assert.Equal(t, c, *back.RarityColor)
}
