package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactories(t *testing.T) {
	src, err := PushFactory{}.NewSource("s1", "facebook")
	require.NoError(t, err)
	assert.IsType(t, &PushSource{}, src)

	_, err = RedisFactory{}.NewSource("s1", "facebook")
	assert.Error(t, err)
	_, err = KafkaFactory{}.NewSource("s1", "facebook")
	assert.Error(t, err)

	src, err = KafkaFactory{Brokers: []string{"localhost:9092"}, TopicPrefix: "live-comments-", GroupPrefix: "g"}.NewSource("s1", "youtube")
	require.NoError(t, err)
	ks := src.(*KafkaSource)
	assert.Equal(t, "live-comments-youtube", ks.r.Config().Topic)
	assert.Equal(t, "g-youtube-s1", ks.r.Config().GroupID)
	require.NoError(t, ks.Close())
}
