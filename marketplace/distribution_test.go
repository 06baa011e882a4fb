package marketplace

import "testing"

func TestComputeDistribution(t *testing.T) {
	cases := []struct {
		name            string
		price           int64
		feeBps          int
		commissionBps   int
		hasFeeRecipient bool
		hasCreator      bool
		want            Distribution
	}{
		{
			name:            "fee and commission",
			price:           1000,
			feeBps:          250,
			commissionBps:   500,
			hasFeeRecipient: true,
			hasCreator:      true,
			want:            Distribution{Fee: 25, Commission: 50, SellerShare: 925},
		},
		{
			name:            "no creator",
			price:           1000,
			feeBps:          250,
			commissionBps:   500,
			hasFeeRecipient: true,
			want:            Distribution{Fee: 25, SellerShare: 975},
		},
		{
			name:          "no fee recipient configured",
			price:         1000,
			feeBps:        250,
			commissionBps: 500,
			hasCreator:    true,
			want:          Distribution{Commission: 50, SellerShare: 950},
		},
		{
			name:            "rounding stays with seller",
			price:           999,
			feeBps:          250,
			commissionBps:   333,
			hasFeeRecipient: true,
			hasCreator:      true,
			want:            Distribution{Fee: 24, Commission: 33, SellerShare: 942},
		},
		{
			name:            "tiny price rounds everything to seller",
			price:           3,
			feeBps:          250,
			commissionBps:   500,
			hasFeeRecipient: true,
			hasCreator:      true,
			want:            Distribution{SellerShare: 3},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeDistribution(tc.price, tc.feeBps, tc.commissionBps, tc.hasFeeRecipient, tc.hasCreator)
			if got != tc.want {
				t.Fatalf("computeDistribution() = %+v, want %+v", got, tc.want)
			}
			if got.Fee+got.Commission+got.SellerShare != tc.price {
				t.Fatalf("split does not conserve price: %+v", got)
			}
		})
	}
}
