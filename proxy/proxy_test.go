package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/oryx/pkg/logger"
	"github.com/papercomputeco/oryx/pkg/sse"
)

// upstreamCall is what the fake agent API saw.
type upstreamCall struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func newTestProxy(upstreamURL string, mutate ...func(*Config)) *Proxy {
	cfg := Config{
		ListenAddr:  ":0",
		UpstreamURL: upstreamURL,
		AgentID:     "agent-1",
		APIKey:      "secret-key",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return p
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, ChatPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeEnvelopes parses every legacy envelope in an SSE body.
func decodeEnvelopes(body io.Reader) []map[string]any {
	r := sse.NewReader(body)
	var out []map[string]any
	for {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if ev == nil {
			return out
		}
		var env map[string]any
		Expect(json.Unmarshal([]byte(ev.Data), &env)).To(Succeed())
		out = append(out, env)
	}
}

var _ = Describe("New", func() {
	It("requires an upstream URL", func() {
		_, err := New(Config{}, logger.Nop())
		Expect(err).To(MatchError("upstream URL is required"))
	})

	It("trims a trailing slash from the upstream URL", func() {
		p := newTestProxy("https://api.example.com/")
		Expect(p.queryURL()).To(Equal("https://api.example.com/v1/agents/agent-1/query"))
	})
})

var _ = Describe("Chat route", func() {
	var (
		p        *Proxy
		upstream *httptest.Server
		calls    chan upstreamCall
	)

	record := func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- upstreamCall{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(body),
		}
	}

	BeforeEach(func() {
		calls = make(chan upstreamCall, 1)
	})

	AfterEach(func() {
		if p != nil {
			_ = p.Close()
		}
		if upstream != nil {
			upstream.Close()
		}
	})

	Context("when the agent API streams a response", func() {
		events := []string{
			"data: {\"event\":\"metadata\",\"data\":{\"conversation_id\":\"c1\",\"request_id\":\"r1\",\"message_id\":\"m1\"}}\n\n",
			": ping\n\n",
			"data: {\"event\":\"message_delta\",\"data\":{\"delta\":\"Hello\"}}\n\n",
			"data: {\"event\":\"end\"}\n\n",
		}

		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				record(r)
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())
				for _, ev := range events {
					fmt.Fprint(w, ev)
					flusher.Flush()
				}
			}))
			p = newTestProxy(upstream.URL)
		})

		It("relays every event verbatim with SSE headers", func() {
			resp, err := p.server.Test(chatRequest(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(strings.Join(events, "")))
		})

		It("forwards to the agent query endpoint with proxy credentials", func() {
			req := chatRequest(`{"messages":[{"role":"user","content":"hi"}]}`)
			req.Header.Set("Authorization", "Bearer from-browser")

			resp, err := p.server.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			_, _ = io.ReadAll(resp.Body)
			resp.Body.Close()

			var call upstreamCall
			Eventually(calls).Should(Receive(&call))
			Expect(call.method).To(Equal(http.MethodPost))
			Expect(call.path).To(Equal("/v1/agents/agent-1/query"))
			Expect(call.header.Get("Authorization")).To(Equal("Bearer secret-key"))
			Expect(call.header.Get("Accept")).To(Equal("text/event-stream"))
			Expect(call.header.Get("Content-Type")).To(Equal("application/json"))
			Expect(call.body).To(MatchJSON(`{"messages":[{"role":"user","content":"hi"}]}`))
		})

		It("generates a request id when the client sent none", func() {
			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			var call upstreamCall
			Eventually(calls).Should(Receive(&call))
			Expect(call.header.Get("X-Request-Id")).To(MatchRegexp(`^[0-9a-f-]{36}$`))
		})

		It("keeps the client's request id", func() {
			req := chatRequest(`{}`)
			req.Header.Set("X-Request-Id", "client-7")
			resp, err := p.server.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			var call upstreamCall
			Eventually(calls).Should(Receive(&call))
			Expect(call.header.Get("X-Request-Id")).To(Equal("client-7"))
		})

		It("accepts an empty body", func() {
			resp, err := p.server.Test(chatRequest(""), -1)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var call upstreamCall
			Eventually(calls).Should(Receive(&call))
			Expect(call.body).To(BeEmpty())
		})
	})

	Context("when the request body is not JSON", func() {
		BeforeEach(func() {
			p = newTestProxy("http://127.0.0.1:1")
		})

		It("rejects it with 400", func() {
			resp, err := p.server.Test(chatRequest("{not json"), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(MatchJSON(`{"error":"Invalid JSON in request body"}`))
		})
	})

	Context("when credentials are missing", func() {
		It("reports the missing API key", func() {
			p = newTestProxy("http://127.0.0.1:1", func(c *Config) { c.APIKey = "" })

			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(MatchJSON(`{"error":"API key is not configured on the server."}`))
		})

		It("reports the missing agent id", func() {
			p = newTestProxy("http://127.0.0.1:1", func(c *Config) { c.AgentID = "" })

			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(MatchJSON(`{"error":"Agent id is not configured on the server."}`))
		})
	})

	Context("when the agent API rejects the request", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Request-Id", "up-1")
				w.WriteHeader(http.StatusUnprocessableEntity)
				fmt.Fprint(w, `{"detail":"prompt too long","error_code":"E42"}`)
			}))
			p = newTestProxy(upstream.URL)
		})

		It("answers 200 with a metadata event then an error event", func() {
			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			envs := decodeEnvelopes(resp.Body)
			Expect(envs).To(HaveLen(2))
			Expect(envs[0]).To(Equal(map[string]any{
				"event": "metadata",
				"data": map[string]any{
					"conversation_id": "",
					"request_id":      "up-1",
					"message_id":      "",
				},
			}))
			Expect(envs[1]).To(Equal(map[string]any{
				"event": "error",
				"data": map[string]any{
					"status":     float64(422),
					"message":    "prompt too long",
					"error_code": "E42",
				},
			}))
		})

		It("uses a custom error mapper when configured", func() {
			_ = p.Close()
			p = newTestProxy(upstream.URL, func(c *Config) {
				c.MapErrorBody = func(_ string, status int) ErrorEvent {
					return ErrorEvent{Status: status, Message: "try again later"}
				}
			})

			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			envs := decodeEnvelopes(resp.Body)
			Expect(envs).To(HaveLen(2))
			Expect(envs[1]["data"]).To(HaveKeyWithValue("message", "try again later"))
		})
	})

	Context("when the agent API fails without a request id", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			p = newTestProxy(upstream.URL)
		})

		It("sends only the error event", func() {
			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			envs := decodeEnvelopes(resp.Body)
			Expect(envs).To(HaveLen(1))
			Expect(envs[0]["event"]).To(Equal("error"))
			Expect(envs[0]["data"]).To(HaveKeyWithValue("message", "Request failed with status 503"))
		})
	})

	Context("when the agent API is unreachable", func() {
		BeforeEach(func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			url := dead.URL
			dead.Close()
			p = newTestProxy(url)
		})

		It("reports a 500 error event", func() {
			resp, err := p.server.Test(chatRequest(`{}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			envs := decodeEnvelopes(resp.Body)
			Expect(envs).To(HaveLen(1))
			Expect(envs[0]["data"]).To(HaveKeyWithValue("status", float64(500)))
			Expect(envs[0]["data"]).To(HaveKeyWithValue("message", ContainSubstring("connect")))
		})
	})
})

var _ = Describe("Retrieval info route", func() {
	var (
		p        *Proxy
		upstream *httptest.Server
		calls    chan upstreamCall
	)

	BeforeEach(func() {
		calls = make(chan upstreamCall, 1)
	})

	AfterEach(func() {
		if p != nil {
			_ = p.Close()
		}
		if upstream != nil {
			upstream.Close()
		}
	})

	serve := func(status int, body string) {
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls <- upstreamCall{
				method: r.Method,
				path:   r.URL.Path,
				query:  r.URL.RawQuery,
				header: r.Header.Clone(),
			}
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		}))
		p = newTestProxy(upstream.URL)
	}

	get := func(target string) (*http.Response, string) {
		resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	It("forwards the lookup to the agent API", func() {
		serve(http.StatusOK, `{"content_metadatas":[{"page":1}]}`)

		resp, body := get(RetrievalInfoPath + "?messageId=m1&contentId=c1")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"content_metadatas":[{"page":1}]}`))

		var call upstreamCall
		Eventually(calls).Should(Receive(&call))
		Expect(call.method).To(Equal(http.MethodGet))
		Expect(call.path).To(Equal("/v1/agents/agent-1/query/m1/retrieval/info"))
		Expect(call.query).To(Equal("content_ids=c1"))
		Expect(call.header.Get("Authorization")).To(Equal("Bearer secret-key"))
	})

	It("rejects a lookup without both ids", func() {
		serve(http.StatusOK, `{}`)

		resp, body := get(RetrievalInfoPath + "?messageId=m1")
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(body).To(MatchJSON(`{"error":"Missing required query parameters: messageId, contentId"}`))
		Expect(calls).NotTo(Receive())
	})

	It("mirrors an upstream failure status", func() {
		serve(http.StatusNotFound, "no such message")

		resp, body := get(RetrievalInfoPath + "?messageId=m1&contentId=c1")
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(body).To(MatchJSON(`{"error":"API responded with 404: no such message"}`))
	})

	It("rejects a non-JSON success body", func() {
		serve(http.StatusOK, "<html>")

		resp, _ := get(RetrievalInfoPath + "?messageId=m1&contentId=c1")
		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
	})

	It("is reachable through the net/http handler", func() {
		serve(http.StatusOK, `{"content_metadatas":[]}`)

		srv := httptest.NewServer(p.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + RetrievalInfoPath + "?messageId=m1&contentId=c1")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body, _ := io.ReadAll(resp.Body)
		Expect(body).To(MatchJSON(`{"content_metadatas":[]}`))
	})
})
