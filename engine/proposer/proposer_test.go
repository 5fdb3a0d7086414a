// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proposer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary_DrawsFromVocabulary(t *testing.T) {
	v, err := NewVocabulary([]string{"a", "b", "c"}, nil, 1)
	require.NoError(t, err)

	ctx := context.Background()
	allowed := map[string]bool{"a": true, "b": true, "c": true}
	for i := 0; i < 100; i++ {
		tok, err := v.Propose(ctx, nil)
		require.NoError(t, err)
		assert.True(t, allowed[tok], "token %q outside vocabulary", tok)
	}
}

func TestVocabulary_FixedSeedDeterministic(t *testing.T) {
	draw := func() []string {
		v, err := NewVocabulary([]string{"x", "y", "z"}, []float64{1, 2, 3}, 99)
		require.NoError(t, err)
		out := make([]string, 20)
		for i := range out {
			out[i], _ = v.Propose(context.Background(), nil)
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestVocabulary_EmptyFails(t *testing.T) {
	_, err := NewVocabulary(nil, nil, 1)
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
}

func TestVocabulary_BatchAligned(t *testing.T) {
	v, err := NewVocabulary([]string{"t"}, nil, 5)
	require.NoError(t, err)

	out, err := v.ProposeBatch(context.Background(), [][]string{{"a"}, {"b"}, {"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "t", "t"}, out)
}

func TestScripted_ReplaysByLength(t *testing.T) {
	s := NewScripted("A", "B", "C")
	ctx := context.Background()

	tok, err := s.Propose(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", tok)

	tok, err = s.Propose(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "C", tok)

	_, err = s.Propose(ctx, []string{"A", "B", "C"})
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestFailing_RetryBudget(t *testing.T) {
	f := &Failing{Inner: NewScripted("A"), FailCount: 2}
	ctx := context.Background()

	_, err := f.Propose(ctx, nil)
	assert.Error(t, err)
	_, err = f.Propose(ctx, nil)
	assert.Error(t, err)

	tok, err := f.Propose(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", tok)
	assert.Equal(t, 3, f.Calls())
}

// fakeChatCompleter echoes a canned continuation and records requests.
type fakeChatCompleter struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
}

func (f *fakeChatCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestOpenAI_Propose(t *testing.T) {
	fake := &fakeChatCompleter{reply: "  next token \n"}
	o, err := NewOpenAI("test-key", OpenAIConfig{}, withClient(fake))
	require.NoError(t, err)

	tok, err := o.Propose(context.Background(), []string{"the", "quick"})
	require.NoError(t, err)
	assert.Equal(t, "next token", tok, "continuation should be trimmed")

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, openai.GPT4oMini, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "the quick", req.Messages[1].Content)
	assert.EqualValues(t, 1, o.Requests())
}

func TestOpenAI_ProposeError(t *testing.T) {
	fake := &fakeChatCompleter{err: errors.New("boom")}
	o, err := NewOpenAI("test-key", OpenAIConfig{}, withClient(fake))
	require.NoError(t, err)

	_, err = o.Propose(context.Background(), nil)
	assert.ErrorContains(t, err, "boom")
}

func TestOpenAI_ProposeBatchAligned(t *testing.T) {
	fake := &fakeChatCompleter{reply: "tok"}
	o, err := NewOpenAI("test-key", OpenAIConfig{BatchConcurrency: 2}, withClient(fake))
	require.NoError(t, err)

	states := make([][]string, 5)
	for i := range states {
		states[i] = []string{fmt.Sprintf("s%d", i)}
	}
	out, err := o.ProposeBatch(context.Background(), states)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, tok := range out {
		assert.Equal(t, "tok", tok)
	}
	assert.Len(t, fake.requests, 5)
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI("", OpenAIConfig{})
	assert.Error(t, err)
}
