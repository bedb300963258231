package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/models"
)

func container(internalID string, permission models.Permission) models.ContainerNode {
	return models.ContainerNode{
		InternalID:  internalID,
		Permission:  permission,
		ParentChain: database.JSONB[[]string]{Data: []string{}},
	}
}

func item(internalID string, permission models.Permission) models.ContentItem {
	return models.ContentItem{
		InternalID:  internalID,
		Permission:  permission,
		ParentChain: database.JSONB[[]string]{Data: []string{}},
	}
}

func TestGrantIndexIsGranted(t *testing.T) {
	t.Run("explicit read on the node grants", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionRead),
		}, nil)

		assert.True(t, idx.IsGranted("zendesk-brand-1", nil))
	})

	t.Run("inherits from nearest read ancestor", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionRead),
		}, nil)

		assert.True(t, idx.IsGranted("zendesk-article-1-7",
			[]string{"zendesk-category-1-3", "zendesk-help-center-1", "zendesk-brand-1"}))
	})

	t.Run("no explicit mark anywhere denies", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionInherited),
		}, nil)

		assert.False(t, idx.IsGranted("zendesk-article-1-7",
			[]string{"zendesk-category-1-3", "zendesk-help-center-1", "zendesk-brand-1"}))
	})

	t.Run("explicit none blocks inheritance under a granted ancestor", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionRead),
			container("zendesk-category-1-3", models.PermissionNone),
		}, nil)

		// The category itself and anything under it stay denied.
		assert.False(t, idx.IsGranted("zendesk-category-1-3",
			[]string{"zendesk-help-center-1", "zendesk-brand-1"}))
		assert.False(t, idx.IsGranted("zendesk-article-1-7",
			[]string{"zendesk-category-1-3", "zendesk-help-center-1", "zendesk-brand-1"}))

		// Siblings outside the blocked subtree still inherit.
		assert.True(t, idx.IsGranted("zendesk-article-1-9",
			[]string{"zendesk-category-1-4", "zendesk-help-center-1", "zendesk-brand-1"}))
	})

	t.Run("explicit read on a descendant survives ancestor revocation", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionNone),
			container("zendesk-category-1-3", models.PermissionRead),
		}, nil)

		assert.True(t, idx.IsGranted("zendesk-category-1-3",
			[]string{"zendesk-help-center-1", "zendesk-brand-1"}))
		assert.True(t, idx.IsGranted("zendesk-article-1-7",
			[]string{"zendesk-category-1-3", "zendesk-help-center-1", "zendesk-brand-1"}))
	})

	t.Run("nearest mark wins over farther marks", func(t *testing.T) {
		idx := BuildGrantIndex([]models.ContainerNode{
			container("zendesk-brand-1", models.PermissionRead),
			container("zendesk-help-center-1", models.PermissionNone),
			container("zendesk-category-1-3", models.PermissionRead),
		}, nil)

		// Article under the re-granted category is readable.
		assert.True(t, idx.IsGranted("zendesk-article-1-7",
			[]string{"zendesk-category-1-3", "zendesk-help-center-1", "zendesk-brand-1"}))

		// Article under an unmarked sibling category hits the none first.
		assert.False(t, idx.IsGranted("zendesk-article-1-9",
			[]string{"zendesk-category-1-4", "zendesk-help-center-1", "zendesk-brand-1"}))
	})

	t.Run("explicitly selected leaf item grants itself", func(t *testing.T) {
		idx := BuildGrantIndex(nil, []models.ContentItem{
			item("ANALYTICS.PUBLIC.EVENTS", models.PermissionRead),
		})

		assert.True(t, idx.IsGranted("ANALYTICS.PUBLIC.EVENTS",
			[]string{"ANALYTICS.PUBLIC", "ANALYTICS"}))
		assert.False(t, idx.IsGranted("ANALYTICS.PUBLIC.ORDERS",
			[]string{"ANALYTICS.PUBLIC", "ANALYTICS"}))
	})
}

func TestGrantIndexReadSet(t *testing.T) {
	idx := BuildGrantIndex([]models.ContainerNode{
		container("zendesk-brand-1", models.PermissionRead),
		container("zendesk-brand-2", models.PermissionNone),
	}, []models.ContentItem{
		item("ANALYTICS.PUBLIC.EVENTS", models.PermissionRead),
	})

	assert.ElementsMatch(t, []string{"zendesk-brand-1", "ANALYTICS.PUBLIC.EVENTS"}, idx.ReadSet())
	assert.False(t, idx.IsEmpty())

	assert.True(t, NewGrantIndex().IsEmpty())
}

func TestGrantIndexMutation(t *testing.T) {
	idx := NewGrantIndex()

	idx.GrantRead("zendesk-brand-1")
	assert.True(t, idx.IsGranted("zendesk-brand-1", nil))

	idx.Deny("zendesk-brand-1")
	assert.False(t, idx.IsGranted("zendesk-brand-1", nil))

	idx.GrantRead("zendesk-brand-1")
	assert.True(t, idx.IsGranted("zendesk-brand-1", nil))
}
