package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"

	"threadline.app/processor/common/llm"
)

var _ = Describe("New", func() {
	It("requires an API key", func() {
		client, err := llm.New(llm.Config{})
		Expect(err).To(HaveOccurred())
		Expect(client).To(BeNil())
	})

	It("defaults the model when none is configured", func() {
		client, err := llm.New(llm.Config{APIKey: "sk-test"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("gpt-4o-mini"))
	})

	It("keeps a configured model", func() {
		client, err := llm.New(llm.Config{APIKey: "sk-test", Model: "gpt-4o"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("gpt-4o"))
	})
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	DescribeTable("classifies errors",
		func(err error, want bool) {
			Expect(llm.IsRetryable(ctx, err)).To(Equal(want))
		},
		Entry("nil error", nil, false),
		Entry("cancelled context", context.Canceled, false),
		Entry("deadline exceeded", context.DeadlineExceeded, false),
		Entry("wrapped cancellation", fmt.Errorf("chat: %w", context.Canceled), false),
		Entry("rate limit", &openai.Error{StatusCode: 429}, true),
		Entry("server error", &openai.Error{StatusCode: 503}, true),
		Entry("bad request", &openai.Error{StatusCode: 400}, false),
		Entry("auth failure", &openai.Error{StatusCode: 401}, false),
		Entry("wrapped API error", fmt.Errorf("chat: %w", &openai.Error{StatusCode: 500}), true),
		Entry("plain network error", errors.New("connection refused"), true),
	)
})

var _ = Describe("GenerateSchema", func() {
	type sampleResponse struct {
		Summary string   `json:"summary" jsonschema_description:"one-paragraph summary"`
		Tags    []string `json:"tags"`
	}

	It("produces a closed object schema with the struct's fields", func() {
		schema := llm.GenerateSchema[sampleResponse]()

		data, err := json.Marshal(schema)
		Expect(err).NotTo(HaveOccurred())

		text := string(data)
		Expect(text).To(ContainSubstring(`"summary"`))
		Expect(text).To(ContainSubstring(`"tags"`))
		Expect(text).To(ContainSubstring(`"additionalProperties":false`))
		Expect(text).To(ContainSubstring("one-paragraph summary"))
	})
})

var _ = Describe("Temp", func() {
	It("pins an explicit temperature, including zero", func() {
		Expect(*llm.Temp(0)).To(BeZero())
		Expect(*llm.Temp(0.2)).To(Equal(0.2))
	})
})
