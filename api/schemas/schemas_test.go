package schemas_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// -- Locator Tests --

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		input    string
		expected schemas.Strategy
	}{
		{"css", schemas.ByCSS},
		{"CSS Selector", schemas.ByCSS},
		{"xpath", schemas.ByXPath},
		{" id ", schemas.ByID},
		{"tag name", schemas.ByTagName},
		{"tag", schemas.ByTagName},
		{"name", schemas.ByName},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := schemas.ParseStrategy(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}

	_, err := schemas.ParseStrategy("link text")
	assert.ErrorContains(t, err, "unknown locator strategy")
}

func TestLocatorValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, schemas.CSS("div.r1nk4da0").Validate())
	assert.NoError(t, schemas.XPath("//button[.//span[text()='Да']]").Validate())
	assert.NoError(t, schemas.ID("passp-field-phone").Validate())

	err := schemas.Locator{Strategy: schemas.ByCSS, Selector: "   "}.Validate()
	assert.ErrorContains(t, err, "empty selector")
	assert.ErrorIs(t, err, schemas.ErrInvalidLocator)

	err = schemas.Locator{Strategy: "link", Selector: "a"}.Validate()
	assert.ErrorContains(t, err, "unknown locator strategy")
}

func TestLocatorString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "css=button[data-confirm]", schemas.CSS("button[data-confirm]").String())
}

// -- Outcome Tests --

func TestOutcomeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_present", schemas.NotPresent.String())
	assert.Equal(t, "cleared", schemas.Cleared.String())
	assert.Equal(t, "clear_failed", schemas.ClearFailed.String())
	assert.Equal(t, "outcome(42)", schemas.Outcome(42).String())

	data, err := json.Marshal(map[string]schemas.Outcome{"popup": schemas.ClearFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"popup":"clear_failed"}`, string(data))

	var decoded map[string]schemas.Outcome
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, schemas.ClearFailed, decoded["popup"])

	var o schemas.Outcome
	assert.Error(t, o.UnmarshalText([]byte("maybe")))
	_, err = schemas.Outcome(-1).MarshalText()
	assert.Error(t, err)
}

func TestSnapshotSinkFunc(t *testing.T) {
	t.Parallel()

	var got schemas.Snapshot
	sink := schemas.SnapshotSinkFunc(func(_ context.Context, snap schemas.Snapshot) (string, error) {
		got = snap
		return "mem://" + snap.Name, nil
	})

	ref, err := sink.Attach(context.Background(), schemas.Snapshot{Name: "popup"})
	require.NoError(t, err)
	assert.Equal(t, "mem://popup", ref)
	assert.Equal(t, "popup", got.Name)
}
