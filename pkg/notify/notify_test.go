package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mdstore/pkg/data"
)

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "Candle_TimeFrame", subjectToken("Candle.TimeFrame"))
	assert.Equal(t, "AAPL", subjectToken("AAPL"))
	assert.Equal(t, "two_words", subjectToken("two words"))
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	assert.NoError(t, p.PublishStored(key, time.Now(), 10))
	p.Close()
}
