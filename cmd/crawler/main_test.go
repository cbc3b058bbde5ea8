package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"youtube", "bilibili"}, splitList(" youtube, ,bilibili "))
}

func TestOptional(t *testing.T) {
	assert.Nil(t, optional(unset))
	if v := optional(0); assert.NotNil(t, v) {
		assert.Equal(t, int64(0), *v)
	}
}

func TestBuildQueryMaxResults(t *testing.T) {
	q, err := buildQuery(models.SearchAPIRequest{Query: "go", MaxResults: optionalInt(unset)}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, q.Request.MaxResultsPerPlatform)

	q, err = buildQuery(models.SearchAPIRequest{Query: "go", MaxResults: optionalInt(3)}, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Request.MaxResultsPerPlatform)

	for _, n := range []int{0, -5} {
		_, err = buildQuery(models.SearchAPIRequest{Query: "go", MaxResults: optionalInt(n)}, 7)
		assert.ErrorIs(t, err, utils.ErrInvalidRequest, "max=%d", n)
	}
}
