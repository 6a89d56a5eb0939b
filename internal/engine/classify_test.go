package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/llm"
	"github.com/m-mizutani/gt"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply string
		want  Verdict
	}{
		{"yes", Affirmative},
		{"Yes.", Affirmative},
		{"  YES  ", Affirmative},
		{"Yes, the memory answers the query.", Affirmative},
		{"no", Negative},
		{"No.", Negative},
		{"", Negative},
		{"I'm not able to judge that.", Negative},
		{"oui", Negative},
	}

	for _, tt := range tests {
		gt.Equal(t, ParseVerdict(tt.reply), tt.want)
	}
}

func TestVerdictString(t *testing.T) {
	gt.Equal(t, Affirmative.String(), "affirmative")
	gt.Equal(t, Negative.String(), "negative")
}

func TestLLMClassifier(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: "Yes"}}
	c := &LLMClassifier{LLM: client}

	v, err := c.Classify(context.Background(), "passport photo location", "My passport photo is in C:/folder/")
	gt.NoError(t, err)
	gt.Equal(t, v, Affirmative)

	msgs := client.Calls[0]
	gt.Equal(t, msgs[len(msgs)-1].Content, llm.ClassifyInput("passport photo location", "My passport photo is in C:/folder/"))
}

func TestLLMClassifierError(t *testing.T) {
	c := &LLMClassifier{LLM: &llm.MockClient{Err: errors.New("timeout")}}

	v, err := c.Classify(context.Background(), "q", "m")
	gt.Error(t, err)
	gt.Equal(t, v, Negative)
}

func TestCachedClassifier(t *testing.T) {
	var calls atomic.Int32
	next := ClassifierFunc(func(_ context.Context, query, memory string) (Verdict, error) {
		calls.Add(1)
		return Affirmative, nil
	})

	c, err := NewCachedClassifier(next, 100)
	gt.NoError(t, err)
	t.Cleanup(c.Close)

	v, err := c.Classify(context.Background(), "q", "m")
	gt.NoError(t, err)
	gt.Equal(t, v, Affirmative)

	// sets are applied asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.cache.Get(verdictKey("q", "m")); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("verdict never cached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	v, err = c.Classify(context.Background(), "q", "m")
	gt.NoError(t, err)
	gt.Equal(t, v, Affirmative)
	gt.Equal(t, calls.Load(), int32(1))

	_, err = c.Classify(context.Background(), "other", "m")
	gt.NoError(t, err)
	gt.Equal(t, calls.Load(), int32(2))
}

func TestCachedClassifierDoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int32
	next := ClassifierFunc(func(context.Context, string, string) (Verdict, error) {
		calls.Add(1)
		return Negative, errors.New("boom")
	})

	c, err := NewCachedClassifier(next, 10)
	gt.NoError(t, err)
	t.Cleanup(c.Close)

	for range 2 {
		_, err := c.Classify(context.Background(), "q", "m")
		gt.Error(t, err)
	}
	gt.Equal(t, calls.Load(), int32(2))
}

func TestNewCachedClassifierRejectsZeroSize(t *testing.T) {
	_, err := NewCachedClassifier(&LLMClassifier{}, 0)
	gt.Error(t, err)
}
