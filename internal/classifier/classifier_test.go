package classifier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    bool
		sender  string
		message string
	}{
		{
			name:    "trade site whisper",
			line:    "[INFO Client 26596] @From Boomtard: Hi, I would like to buy your Jade Amulet listed for 14 exalted in Standard",
			want:    true,
			sender:  "Boomtard",
			message: "Hi, I would like to buy your Jade Amulet listed for 14 exalted in Standard",
		},
		{
			name: "ordinary chat",
			line: "[INFO Client 1] @From Alice: gg well played",
			want: false,
		},
		{
			name:    "timestamped client line with stash annotation",
			line:    `2024/12/20 18:01:02 123456789 cffb0719 [INFO Client 26596] @From Boomtard: Hi, I would like to buy your Surefooted Sigil, Jade Amulet listed for 14 exalted in Standard (stash tab "~price 14 exalted"; position: left 9, top 11)`,
			want:    true,
			sender:  "Boomtard",
			message: `Hi, I would like to buy your Surefooted Sigil, Jade Amulet listed for 14 exalted in Standard (stash tab "~price 14 exalted"; position: left 9, top 11)`,
		},
		{
			name:    "wtb with amount currency league",
			line:    "[INFO Client 26600] @From QuickBuyer: wtb Headhunter 50 divine in Standard",
			want:    true,
			sender:  "QuickBuyer",
			message: "wtb Headhunter 50 divine in Standard",
		},
		{
			name:    "price phrase",
			line:    "[INFO Client 26601] @From GemTrader: I want to buy your Awakened Multistrike Support price 8 divine in Standard",
			want:    true,
			sender:  "GemTrader",
			message: "I want to buy your Awakened Multistrike Support price 8 divine in Standard",
		},
		{
			name:    "purchase with decimal-free amount",
			line:    "[INFO Client 26602] @From BulkSeller: Hi I would like to purchase your 2000 Orb of Alteration for 2 divine in Standard",
			want:    true,
			sender:  "BulkSeller",
			message: "Hi I would like to purchase your 2000 Orb of Alteration for 2 divine in Standard",
		},
		{
			name:    "buying with fractional amount",
			line:    "[INFO Client 26604] @From CasualTrader: buying your Aegis Aurora 3.5 divine in Standard",
			want:    true,
			sender:  "CasualTrader",
			message: "buying your Aegis Aurora 3.5 divine in Standard",
		},
		{
			name:    "offer keyword and upper case",
			line:    "[INFO Client 7] @From Loud: WTS MIRROR, MAKE AN OFFER",
			want:    true,
			sender:  "Loud",
			message: "WTS MIRROR, MAKE AN OFFER",
		},
		{
			name:    "guild tag stripped",
			line:    "[INFO Client 7] @From <EXILE> Tagged: wtb your map listed for 3 chaos in Standard",
			want:    true,
			sender:  "Tagged",
			message: "wtb your map listed for 3 chaos in Standard",
		},
		{
			name:    "crlf line ending",
			line:    "[INFO Client 7] @From Win: wtb your map listed for 3 chaos in Standard\r",
			want:    true,
			sender:  "Win",
			message: "wtb your map listed for 3 chaos in Standard",
		},
		{
			name: "intent without price",
			line: "[INFO Client 3] @From Bob: I want to buy your Tabula Rasa",
			want: false,
		},
		{
			name: "price without intent",
			line: "[INFO Client 3] @From Bob: that was listed for 5 divine in Standard yesterday",
			want: false,
		},
		{
			name: "price only inside stash annotation",
			line: `[INFO Client 3] @From Bob: wtb anything? (stash tab "~price 1 chaos in Standard")`,
			want: false,
		},
		{
			name: "outgoing whisper",
			line: "[INFO Client 3] @To Bob: Hi, I would like to buy your Jade Amulet listed for 14 exalted in Standard",
			want: false,
		},
		{
			name: "quoted whisper in local chat",
			line: "2024/12/20 22:11:03 123456 cffb0734 [INFO Client 26596] Mallory: [x] @From Eve: wtb your map listed for 3 chaos in Standard",
			want: false,
		},
		{
			name: "quoted whisper inside a whisper body",
			line: "[INFO Client 3] @To Bob: [x] @From Eve: wtb your map listed for 3 chaos in Standard",
			want: false,
		},
		{
			name: "garbage",
			line: "\x00\x01 not a log line",
			want: false,
		},
		{
			name: "empty",
			line: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := Classify(tt.line)
			require.Equal(t, tt.want, ok)
			if !tt.want {
				return
			}
			assert.Equal(t, tt.sender, match.Sender)
			assert.Equal(t, tt.message, match.Message)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	line := "[INFO Client 26596] @From Boomtard: Hi, I would like to buy your Jade Amulet listed for 14 exalted in Standard"

	first, ok1 := Classify(line)
	second, ok2 := Classify(line)

	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestParseListing(t *testing.T) {
	t.Run("full template with position", func(t *testing.T) {
		listing := ParseListing(`Hi, I would like to buy your Surefooted Sigil, Jade Amulet listed for 14 exalted in Standard (stash tab "~price 14 exalted"; position: left 9, top 11)`)
		require.NotNil(t, listing)

		assert.Equal(t, "Surefooted Sigil, Jade Amulet", listing.Item)
		assert.True(t, listing.Amount.Equal(decimal.NewFromInt(14)))
		assert.Equal(t, "exalted", listing.Currency)
		assert.Equal(t, "Standard", listing.League)
		assert.Equal(t, "~price 14 exalted", listing.StashTab)
		assert.Equal(t, 9, listing.Left)
		assert.Equal(t, 11, listing.Top)
	})

	t.Run("stash tab without position", func(t *testing.T) {
		listing := ParseListing(`Hi, I would like to buy your 6-link Astral Plate listed for 10.5 divine in Hardcore Settlers (stash tab "~price 10 divine")`)
		require.NotNil(t, listing)

		assert.Equal(t, "6-link Astral Plate", listing.Item)
		assert.True(t, listing.Amount.Equal(decimal.RequireFromString("10.5")))
		assert.Equal(t, "Hardcore Settlers", listing.League)
		assert.Equal(t, "~price 10 divine", listing.StashTab)
		assert.Zero(t, listing.Left)
	})

	t.Run("free form message", func(t *testing.T) {
		assert.Nil(t, ParseListing("wtb Headhunter 50 divine in Standard"))
	})

	t.Run("classify attaches listing", func(t *testing.T) {
		match, ok := Classify("[INFO Client 26596] @From Boomtard: Hi, I would like to buy your Jade Amulet listed for 14 exalted in Standard")
		require.True(t, ok)
		require.NotNil(t, match.Listing)
		assert.Equal(t, "Jade Amulet", match.Listing.Item)
	})
}
