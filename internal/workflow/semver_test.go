package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenworks/sopctl/pkg/models"
)

func TestBumpVersionString(t *testing.T) {
	cases := []struct {
		name       string
		parent     string
		changeType models.ChangeType
		want       string
		wantErr    bool
	}{
		{"minor bump", "v1.2", models.ChangeMinor, "v1.3", false},
		{"major bump resets minor", "v1.2", models.ChangeMajor, "v2.0", false},
		{"minor on initial", "v0.1", models.ChangeMinor, "v0.2", false},
		{"major on initial", "v0.1", models.ChangeMajor, "v1.0", false},
		{"double digit minor", "v3.19", models.ChangeMinor, "v3.20", false},
		{"missing prefix", "1.2", models.ChangeMinor, "", true},
		{"missing minor", "v1", models.ChangeMinor, "", true},
		{"extra component", "v1.2.3", models.ChangeMinor, "", true},
		{"non numeric", "v1.x", models.ChangeMinor, "", true},
		{"empty", "", models.ChangeMinor, "", true},
		{"unknown change type", "v1.2", models.ChangeType("Patch"), "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := bumpVersionString(tc.parent, tc.changeType)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsPrePromotion(t *testing.T) {
	assert.True(t, isPrePromotion("v0.1"))
	assert.True(t, isPrePromotion("v0.9"))
	assert.False(t, isPrePromotion("v1.0"))
	assert.False(t, isPrePromotion("v2.3"))
	assert.False(t, isPrePromotion("garbage"))
}
