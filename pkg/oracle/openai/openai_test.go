package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/oracle/openai"
)

var _ = Describe("NewCaller", func() {
	It("posts the prompt and returns the first choice's content", func() {
		var gotPath, gotAuth string
		var gotBody map[string]any

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[{"message":{"content":"{\"update\":{},\"delete\":[]}"}}]}`))
		}))
		defer server.Close()

		call := openai.NewCaller(openai.Config{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
		out, err := call(context.Background(), "consolidate these")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"update":{},"delete":[]}`))
		Expect(gotPath).To(Equal("/v1/chat/completions"))
		Expect(gotAuth).To(Equal("Bearer sk-test"))
		Expect(gotBody["model"]).To(Equal("gpt-4o-mini"))
		Expect(gotBody["response_format"]).To(HaveKeyWithValue("type", "json_object"))
	})

	It("wraps non-200 responses in ErrOracle", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		call := openai.NewCaller(openai.Config{BaseURL: server.URL})
		_, err := call(context.Background(), "x")

		Expect(err).To(MatchError(oracle.ErrOracle))
	})

	It("wraps API error payloads in ErrOracle", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"choices":[],"error":{"message":"model overloaded"}}`))
		}))
		defer server.Close()

		call := openai.NewCaller(openai.Config{BaseURL: server.URL})
		_, err := call(context.Background(), "x")

		Expect(err).To(MatchError(oracle.ErrOracle))
		Expect(err.Error()).To(ContainSubstring("model overloaded"))
	})

	It("wraps an empty choices list in ErrOracle", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		call := openai.NewCaller(openai.Config{BaseURL: server.URL})
		_, err := call(context.Background(), "x")

		Expect(err).To(MatchError(oracle.ErrOracle))
	})
})
