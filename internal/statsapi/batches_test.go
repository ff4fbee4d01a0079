package statsapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryInt_FallsBackToDefaultOnMissingOrInvalid(t *testing.T) {
	q := url.Values{"page": []string{"3"}, "limit": []string{"not-a-number"}}
	assert.Equal(t, 3, queryInt(q, "page", 0))
	assert.Equal(t, 20, queryInt(q, "limit", 20))
	assert.Equal(t, 5, queryInt(q, "missing", 5))
}

func TestPageSizeOrDefault_ClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 20, pageSizeOrDefault(0))
	assert.Equal(t, 20, pageSizeOrDefault(-1))
	assert.Equal(t, 20, pageSizeOrDefault(101))
	assert.Equal(t, 50, pageSizeOrDefault(50))
}
