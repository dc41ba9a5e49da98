package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"score\":"},{"text":"5}"}]}}]}`))
	}))
	defer srv.Close()

	c := New("k", srv.URL)
	out, err := c.Generate(context.Background(), "gemini-2.0-flash", GenerateRequest{
		SystemInstruction: &Content{Parts: []Part{{Text: "be terse"}}},
		Contents:          []Content{{Role: "user", Parts: []Part{{Text: "rate"}}}},
		GenerationConfig:  &GenerationConfig{ResponseMIMEType: "application/json"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score":5}`, out, "parts are joined")
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMIMEType)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be terse", got.SystemInstruction.Parts[0].Text)
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := New("k", srv.URL).Generate(context.Background(), "m", GenerateRequest{})
	assert.Error(t, err)
}

func TestEmbed_TaskTypeAndDimension(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding":{"values":[0.5,0.5]}}`))
	}))
	defer srv.Close()

	vec, err := New("k", srv.URL).Embed(context.Background(), "text-embedding-004", "hello", TaskRetrievalQuery, 2)
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, TaskRetrievalQuery, got.TaskType)
	assert.Equal(t, 2, got.OutputDimensionality)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := New("k", srv.URL).Generate(context.Background(), "m", GenerateRequest{})
	var se *StatusError
	require.True(t, errors.As(err, &se), "err = %v, want *StatusError", err)
	assert.Equal(t, 429, se.Code)
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

func TestListModels_StripsPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.0-flash"},{"name":"models/text-embedding-004"}]}`))
	}))
	defer srv.Close()

	c := New("k", srv.URL)
	names, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.0-flash", "text-embedding-004"}, names)
	assert.True(t, c.IsRunning(context.Background()))
}
