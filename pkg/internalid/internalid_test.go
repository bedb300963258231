package internalid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "zendesk-brand-42", Brand(42))
	assert.Equal(t, "zendesk-help-center-42", HelpCenter(42))
	assert.Equal(t, "zendesk-tickets-42", Tickets(42))
	assert.Equal(t, "zendesk-category-42-7", Category(42, 7))
	assert.Equal(t, "zendesk-article-42-101", Article(42, 101))
	assert.Equal(t, "zendesk-ticket-42-555", Ticket(42, 555))
	assert.Equal(t, "ANALYTICS", Database("ANALYTICS"))
	assert.Equal(t, "ANALYTICS.PUBLIC", Schema("ANALYTICS", "PUBLIC"))
	assert.Equal(t, "ANALYTICS.PUBLIC.EVENTS", Table("ANALYTICS", "PUBLIC", "EVENTS"))
}

func TestParse(t *testing.T) {
	t.Run("brand", func(t *testing.T) {
		parsed, err := Parse("zendesk-brand-42")
		require.NoError(t, err)
		assert.Equal(t, KindBrand, parsed.Kind)
		assert.Equal(t, int64(42), parsed.BrandID)
	})

	t.Run("help center", func(t *testing.T) {
		parsed, err := Parse("zendesk-help-center-42")
		require.NoError(t, err)
		assert.Equal(t, KindHelpCenter, parsed.Kind)
		assert.Equal(t, int64(42), parsed.BrandID)
	})

	t.Run("tickets bucket", func(t *testing.T) {
		parsed, err := Parse("zendesk-tickets-42")
		require.NoError(t, err)
		assert.Equal(t, KindTickets, parsed.Kind)
		assert.Equal(t, int64(42), parsed.BrandID)
	})

	t.Run("category", func(t *testing.T) {
		parsed, err := Parse("zendesk-category-42-7")
		require.NoError(t, err)
		assert.Equal(t, KindCategory, parsed.Kind)
		assert.Equal(t, int64(42), parsed.BrandID)
		assert.Equal(t, int64(7), parsed.ObjectID)
	})

	t.Run("article", func(t *testing.T) {
		parsed, err := Parse("zendesk-article-42-101")
		require.NoError(t, err)
		assert.Equal(t, KindArticle, parsed.Kind)
		assert.Equal(t, int64(101), parsed.ObjectID)
	})

	t.Run("ticket", func(t *testing.T) {
		parsed, err := Parse("zendesk-ticket-42-555")
		require.NoError(t, err)
		assert.Equal(t, KindTicket, parsed.Kind)
		assert.Equal(t, int64(555), parsed.ObjectID)
	})

	t.Run("warehouse table", func(t *testing.T) {
		parsed, err := Parse("ANALYTICS.PUBLIC.EVENTS")
		require.NoError(t, err)
		assert.Equal(t, KindTable, parsed.Kind)
		assert.Equal(t, "ANALYTICS", parsed.DatabaseName)
		assert.Equal(t, "PUBLIC", parsed.SchemaName)
		assert.Equal(t, "EVENTS", parsed.TableName)
	})

	t.Run("warehouse schema", func(t *testing.T) {
		parsed, err := Parse("ANALYTICS.PUBLIC")
		require.NoError(t, err)
		assert.Equal(t, KindSchema, parsed.Kind)
	})

	t.Run("warehouse database", func(t *testing.T) {
		parsed, err := Parse("ANALYTICS")
		require.NoError(t, err)
		assert.Equal(t, KindDatabase, parsed.Kind)
	})

	t.Run("rejects malformed IDs", func(t *testing.T) {
		for _, id := range []string{
			"zendesk-brand-abc",
			"zendesk-category-42",
			"zendesk-article-42-7-9",
			"zendesk-unknown-42",
			"a.b.c.d",
			"a..c",
			"",
		} {
			_, err := Parse(id)
			assert.Error(t, err, "expected %q to be rejected", id)
		}
	})
}

func TestAncestors(t *testing.T) {
	t.Run("category chain is nearest first", func(t *testing.T) {
		parsed, err := Parse("zendesk-category-42-7")
		require.NoError(t, err)

		chain, ok := parsed.Ancestors()
		require.True(t, ok)
		assert.Equal(t, []string{"zendesk-help-center-42", "zendesk-brand-42"}, chain)
	})

	t.Run("ticket chain goes through tickets bucket", func(t *testing.T) {
		parsed, err := Parse("zendesk-ticket-42-555")
		require.NoError(t, err)

		chain, ok := parsed.Ancestors()
		require.True(t, ok)
		assert.Equal(t, []string{"zendesk-tickets-42", "zendesk-brand-42"}, chain)
	})

	t.Run("table chain", func(t *testing.T) {
		parsed, err := Parse("ANALYTICS.PUBLIC.EVENTS")
		require.NoError(t, err)

		chain, ok := parsed.Ancestors()
		require.True(t, ok)
		assert.Equal(t, []string{"ANALYTICS.PUBLIC", "ANALYTICS"}, chain)
	})

	t.Run("article chain is not derivable", func(t *testing.T) {
		parsed, err := Parse("zendesk-article-42-101")
		require.NoError(t, err)

		_, ok := parsed.Ancestors()
		assert.False(t, ok)
	})

	t.Run("roots have empty chains", func(t *testing.T) {
		for _, id := range []string{"zendesk-brand-42", "ANALYTICS"} {
			parsed, err := Parse(id)
			require.NoError(t, err)

			chain, ok := parsed.Ancestors()
			require.True(t, ok)
			assert.Empty(t, chain)
		}
	})
}
