package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMetadata(t *testing.T) {
	ok := Metadata{Kind: KindReaction, TopicID: "t1", ContentRating: RatingGeneral}
	assert.NoError(t, Validate(&ok))

	reply := Metadata{Kind: KindComment, ParentClipID: "c1"}
	assert.NoError(t, Validate(&reply))

	bad := Metadata{Kind: "podcast", ContentRating: "adult"}
	err := Validate(&bad)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"kind", "topic_id", "content_rating"}, fields)
	assert.Contains(t, err.Error(), "kind: must be one of")
}
