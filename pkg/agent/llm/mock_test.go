package llm

import "context"

// stubClient answers every Complete with reply or err and logs "base" into order.
type stubClient struct {
	err   error
	order *[]string
	reply string
}

func (s *stubClient) Complete(context.Context, CompletionRequest) (CompletionResponse, error) {
	if s.order != nil {
		*s.order = append(*s.order, "base")
	}
	if s.err != nil {
		return CompletionResponse{}, s.err
	}
	if s.reply == "" {
		return CompletionResponse{Content: "stub reply"}, nil
	}
	return CompletionResponse{Content: s.reply}, nil
}

func (s *stubClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return StreamFromComplete(ctx, s, req)
}

func (s *stubClient) GetModelName() string { return "stub-model" }

// tagging records tag on the way in and suffixes the reply with it on the way out.
func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, tag)
				resp, err := next.Complete(ctx, req)
				if err == nil {
					resp.Content += ":" + tag
				}
				return resp, err
			},
			next.Stream,
			next.GetModelName,
		)
	}
}
